package cmd

// commName truncates name to what the kernel keeps for a task name.
func commName(name string) string {
	const taskCommLen = 16
	if len(name) >= taskCommLen {
		return name[:taskCommLen-1]
	}
	return name
}
