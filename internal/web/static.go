package web

import (
	"embed"
)

// staticFiles holds the embedded page served at "/".
// The binary needs no files on disk besides the config.
//
//go:embed static/*
var staticFiles embed.FS
