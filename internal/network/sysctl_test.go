package network

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPv6Enabled(t *testing.T) {
	mockSys := new(MockSystemController)
	mockSys.On("ReadSysctl", "/proc/sys/net/ipv6/conf/eth0/disable_ipv6").Return("0", nil).Once()
	mockSys.On("ReadSysctl", "/proc/sys/net/ipv6/conf/eth1/disable_ipv6").Return("1", nil).Once()
	mockSys.On("ReadSysctl", "/proc/sys/net/ipv6/conf/eth2/disable_ipv6").Return("", os.ErrNotExist).Once()

	enabled, ok := ipv6Enabled(mockSys, "eth0")
	assert.True(t, ok)
	assert.True(t, enabled)

	enabled, ok = ipv6Enabled(mockSys, "eth1")
	assert.True(t, ok)
	assert.False(t, enabled)

	_, ok = ipv6Enabled(mockSys, "eth2")
	assert.False(t, ok)

	mockSys.AssertExpectations(t)
}

func TestSetIPv6Enabled(t *testing.T) {
	mockSys := new(MockSystemController)
	mockSys.On("WriteSysctl", "/proc/sys/net/ipv6/conf/eth0/disable_ipv6", "0").Return(nil).Once()
	require.NoError(t, setIPv6Enabled(mockSys, "eth0", true))

	// Disabling a stack that is compiled out is a no-op.
	mockSys.On("WriteSysctl", "/proc/sys/net/ipv6/conf/eth1/disable_ipv6", "1").Return(os.ErrNotExist).Once()
	mockSys.On("IsNotExist", os.ErrNotExist).Return(true).Once()
	require.NoError(t, setIPv6Enabled(mockSys, "eth1", false))

	mockSys.On("WriteSysctl", "/proc/sys/net/ipv6/conf/eth2/disable_ipv6", "0").Return(errors.New("permission denied")).Once()
	err := setIPv6Enabled(mockSys, "eth2", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set IPv6 on eth2")

	mockSys.AssertExpectations(t)
}

func TestReadBondOption(t *testing.T) {
	mockSys := new(MockSystemController)
	mockSys.On("ReadSysctl", "/sys/class/net/bond0/bonding/xmit_hash_policy").Return("layer3+4 1", nil).Once()
	mockSys.On("ReadSysctl", "/sys/class/net/bond0/bonding/miimon").Return("100", nil).Once()
	mockSys.On("ReadSysctl", "/sys/class/net/bond0/bonding/lacp_rate").Return("", errors.New("no such file")).Once()

	v, ok := readBondOption(mockSys, "bond0", "xmit_hash_policy")
	assert.True(t, ok)
	assert.Equal(t, "layer3+4", v)

	v, ok = readBondOption(mockSys, "bond0", "miimon")
	assert.True(t, ok)
	assert.Equal(t, "100", v)

	_, ok = readBondOption(mockSys, "bond0", "lacp_rate")
	assert.False(t, ok)

	mockSys.AssertExpectations(t)
}
