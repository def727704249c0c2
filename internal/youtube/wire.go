package youtube

// Wire shapes for the live chat page and the get_live_chat response. Only
// the fields this adapter reads are declared; everything else in the
// payloads is ignored, so schema drift on unrelated parts is harmless.

type continuationData struct {
	Continuation string `json:"continuation"`
}

type continuationHolder struct {
	InvalidationContinuationData *continuationData `json:"invalidationContinuationData"`
	TimedContinuationData        *continuationData `json:"timedContinuationData"`
	ReloadContinuationData       *continuationData `json:"reloadContinuationData"`
}

type continuationList []continuationHolder

// token returns the first continuation found, in the order the web player
// itself prefers the variants.
func (l continuationList) token() string {
	if len(l) == 0 {
		return ""
	}
	c := l[0]
	switch {
	case c.InvalidationContinuationData != nil:
		return c.InvalidationContinuationData.Continuation
	case c.TimedContinuationData != nil:
		return c.TimedContinuationData.Continuation
	case c.ReloadContinuationData != nil:
		return c.ReloadContinuationData.Continuation
	}
	return ""
}

type initialData struct {
	Contents struct {
		LiveChatRenderer struct {
			Continuations continuationList `json:"continuations"`
		} `json:"liveChatRenderer"`
	} `json:"contents"`
}

type messageRenderer struct {
	AuthorName struct {
		SimpleText string `json:"simpleText"`
	} `json:"authorName"`
	AuthorExternalChannelID string `json:"authorExternalChannelId"`
	Message                 struct {
		Runs []struct {
			Text string `json:"text"`
		} `json:"runs"`
	} `json:"message"`
	AuthorBadges []struct {
		LiveChatAuthorBadgeRenderer struct {
			Icon *struct {
				IconType string `json:"iconType"`
			} `json:"icon"`
		} `json:"liveChatAuthorBadgeRenderer"`
	} `json:"authorBadges"`
}

type chatResponse struct {
	ContinuationContents struct {
		LiveChatContinuation struct {
			Continuations continuationList `json:"continuations"`
			Actions       []struct {
				AddChatItemAction *struct {
					Item struct {
						LiveChatTextMessageRenderer *messageRenderer `json:"liveChatTextMessageRenderer"`
						LiveChatPaidMessageRenderer *messageRenderer `json:"liveChatPaidMessageRenderer"`
					} `json:"item"`
				} `json:"addChatItemAction"`
			} `json:"actions"`
		} `json:"liveChatContinuation"`
	} `json:"continuationContents"`
}
