// Package web embeds the static pages the non-native transports load
// on both origins. Their content is boilerplate; their availability is
// a hard precondition for polling and relay channel construction.
package web

import "embed"

//go:embed blank.html relay.html
var Pages embed.FS
