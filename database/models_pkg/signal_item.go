package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Platform discriminators for SignalItem.
const (
	PlatformShortPost      = "short_post"
	PlatformRepoEvent      = "code_repository_event"
	PlatformForumPost      = "forum_post"
	PlatformAggregatorPost = "link_aggregator_post"
)

// ShortPostMetrics carries engagement data for a short social post.
type ShortPostMetrics struct {
	Author   string `json:"author"`
	Likes    int    `json:"likes"`
	Reposts  int    `json:"reposts"`
	Replies  int    `json:"replies"`
	Views    int    `json:"views,omitempty"`
	Verified bool   `json:"verified,omitempty"`
}

// RepoEventMetrics carries data for a code repository event
// (issue, discussion, release note, etc.).
type RepoEventMetrics struct {
	Repo      string `json:"repo"`
	EventKind string `json:"event_kind"` // issue, discussion, release, pull_request
	Author    string `json:"author"`
	Reactions int    `json:"reactions"`
	Comments  int    `json:"comments"`
	Stars     int    `json:"stars,omitempty"`
}

// ForumPostMetrics carries engagement data for a long-form forum post.
type ForumPostMetrics struct {
	Forum    string `json:"forum"`
	Author   string `json:"author"`
	Upvotes  int    `json:"upvotes"`
	Comments int    `json:"comments"`
	Flair    string `json:"flair,omitempty"`
}

// AggregatorPostMetrics carries engagement data for a link-aggregator post.
type AggregatorPostMetrics struct {
	Site     string `json:"site"`
	Author   string `json:"author"`
	Points   int    `json:"points"`
	Comments int    `json:"comments"`
	URL      string `json:"url,omitempty"`
}

// SignalItem is one platform-sourced text unit. It is a tagged union
// discriminated by Platform: exactly one of the platform payloads is
// non-nil. Items are immutable once captured.
type SignalItem struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	ShortPost      *ShortPostMetrics      `json:"short_post,omitempty"`
	RepoEvent      *RepoEventMetrics      `json:"code_repository_event,omitempty"`
	ForumPost      *ForumPostMetrics      `json:"forum_post,omitempty"`
	AggregatorPost *AggregatorPostMetrics `json:"link_aggregator_post,omitempty"`
}

// signalItemWire mirrors SignalItem for (un)marshalling without recursion.
type signalItemWire struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	ShortPost      *ShortPostMetrics      `json:"short_post,omitempty"`
	RepoEvent      *RepoEventMetrics      `json:"code_repository_event,omitempty"`
	ForumPost      *ForumPostMetrics      `json:"forum_post,omitempty"`
	AggregatorPost *AggregatorPostMetrics `json:"link_aggregator_post,omitempty"`
}

// UnmarshalJSON decodes a signal item and enforces the tagged-union
// contract: the platform must be known and its payload present.
func (s *SignalItem) UnmarshalJSON(data []byte) error {
	var w signalItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*s = SignalItem(w)

	switch s.Platform {
	case PlatformShortPost:
		if s.ShortPost == nil {
			return fmt.Errorf("signal item %s: missing short_post payload", s.ID)
		}
	case PlatformRepoEvent:
		if s.RepoEvent == nil {
			return fmt.Errorf("signal item %s: missing code_repository_event payload", s.ID)
		}
	case PlatformForumPost:
		if s.ForumPost == nil {
			return fmt.Errorf("signal item %s: missing forum_post payload", s.ID)
		}
	case PlatformAggregatorPost:
		if s.AggregatorPost == nil {
			return fmt.Errorf("signal item %s: missing link_aggregator_post payload", s.ID)
		}
	default:
		return fmt.Errorf("signal item %s: unknown platform %q", s.ID, s.Platform)
	}

	return nil
}

// Author returns the item's author across platform variants. Items built
// in code may carry a platform with no payload yet; those yield "".
func (s *SignalItem) Author() string {
	switch s.Platform {
	case PlatformShortPost:
		if s.ShortPost != nil {
			return s.ShortPost.Author
		}
	case PlatformRepoEvent:
		if s.RepoEvent != nil {
			return s.RepoEvent.Author
		}
	case PlatformForumPost:
		if s.ForumPost != nil {
			return s.ForumPost.Author
		}
	case PlatformAggregatorPost:
		if s.AggregatorPost != nil {
			return s.AggregatorPost.Author
		}
	}
	return ""
}

// Engagement returns a single comparable engagement figure per variant:
// the dominant counter for the platform plus its comment-like counter.
// A missing payload counts as zero engagement.
func (s *SignalItem) Engagement() int {
	switch s.Platform {
	case PlatformShortPost:
		if s.ShortPost != nil {
			return s.ShortPost.Likes + s.ShortPost.Reposts + s.ShortPost.Replies
		}
	case PlatformRepoEvent:
		if s.RepoEvent != nil {
			return s.RepoEvent.Reactions + s.RepoEvent.Comments
		}
	case PlatformForumPost:
		if s.ForumPost != nil {
			return s.ForumPost.Upvotes + s.ForumPost.Comments
		}
	case PlatformAggregatorPost:
		if s.AggregatorPost != nil {
			return s.AggregatorPost.Points + s.AggregatorPost.Comments
		}
	}
	return 0
}
