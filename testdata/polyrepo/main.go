package main

import "example.com/polyrepo/internal"

func main() {
	cfg := internal.Load()
	internal.Serve(cfg)
}
