/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"github.com/authdns/authdns/cmd/authdogctl/cmd"
)

func main() {
	cmd.Execute()
}
