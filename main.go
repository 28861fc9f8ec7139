// SPDX-License-Identifier: MPL-2.0

package main

import cmd "setupx-cli/cmd/setupx"

func main() {
	cmd.Execute()
}
