package ui

import (
	"agtui/model"
)

// Message type aliases - the canonical types live in the model package
type Message = model.Message

type streamEventMsg = model.StreamEventMsg
type transportStatusMsg = model.TransportStatusMsg
type sendFailedMsg = model.SendFailedMsg
type markdownRenderedMsg = model.MarkdownRenderedMsg
type searchResultsMsg = model.SearchResultsMsg
type flashTickMsg = model.FlashTickMsg
