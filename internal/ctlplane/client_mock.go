package ctlplane

import (
	"context"

	"github.com/stretchr/testify/mock"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

// MockControlPlaneClient is a mock implementation of ControlPlaneClient for testing.
type MockControlPlaneClient struct {
	mock.Mock
}

func (m *MockControlPlaneClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockControlPlaneClient) Status(ctx context.Context) (*StatusReply, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StatusReply), args.Error(1)
}

func (m *MockControlPlaneClient) Apply(ctx context.Context, desired *schema.Document, opts applier.ApplyOptions) (*applier.Result, error) {
	args := m.Called(desired, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*applier.Result), args.Error(1)
}

func (m *MockControlPlaneClient) Show(ctx context.Context, names ...string) (*schema.Document, error) {
	args := m.Called(names)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schema.Document), args.Error(1)
}

func (m *MockControlPlaneClient) Commit(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *MockControlPlaneClient) Rollback(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *MockControlPlaneClient) GenerateConfig(ctx context.Context, desired *schema.Document) (map[string][]string, error) {
	args := m.Called(desired)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]string), args.Error(1)
}

func (m *MockControlPlaneClient) Diff(ctx context.Context, desired *schema.Document) (string, error) {
	args := m.Called(desired)
	return args.String(0), args.Error(1)
}

func (m *MockControlPlaneClient) History(ctx context.Context) ([]*state.ApplyRecord, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*state.ApplyRecord), args.Error(1)
}
