package main

import "github.com/jmcleod/payrollportal/cmd/payroll/cmd"

func main() {
	cmd.Execute()
}
