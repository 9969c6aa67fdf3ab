// Package scripts embeds the Risor extraction and resolution scripts so
// the sdl binary works without a scripts directory on disk.
package scripts

import "embed"

// FS holds every .risor script, addressed by paths like
// "extract/go.risor" — the same layout the on-disk scripts directory
// uses, so Engine options can swap between the two freely.
//
//go:embed common.risor extract/*.risor resolve/*.risor
var FS embed.FS
