package rodhost

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking fails requests for the listed resource types.
// Readiness only depends on markup, so images and fonts are dead weight.
func applyResourceBlocking(page *rod.Page, types []string) error {
	blockSet := blockSetOf(types)

	router := page.HijackRequests()
	if err := router.Add("*", "", func(ctx *rod.Hijack) {
		if shouldBlock(blockSet, string(ctx.Request.Type())) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return err
	}

	go router.Run()
	return nil
}

func blockSetOf(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

// shouldBlock maps a CDP resource type onto the configured names.
func shouldBlock(blockSet map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)
	switch lower {
	case "image":
		return blockSet["images"] || blockSet["image"]
	case "font":
		return blockSet["fonts"] || blockSet["font"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"] || blockSet["stylesheet"]
	case "document":
		// The page itself is never blocked.
		return false
	}
	return blockSet[lower]
}
