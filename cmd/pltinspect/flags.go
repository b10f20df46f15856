package main

var opts struct {
	Path    string `short:"p" long:"path" description:"Path to an already-loaded shared object to inspect; empty means the main executable"`
	Verbose bool   `short:"V" long:"verbose" description:"Show verbose debug information"`
	Version bool   `short:"v" long:"version" description:"Show version information"`
	Help    bool   `short:"h" long:"help" description:"Show this help message"`
}
