//go:build !linux

package cmd

func setProcessName(string) error { return nil }
