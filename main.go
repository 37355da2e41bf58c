package main

import "dragonforge/internal/dragonforge"

func main() {
	dragonforge.Main()
}
