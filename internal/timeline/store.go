// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package timeline

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Error variables for timeline lookups.
var (
	// ErrMessageNotFound indicates no user entry carries the requested id.
	ErrMessageNotFound = errors.New("timeline: message not found")

	// ErrVersionOutOfRange indicates a version index outside the known branches.
	ErrVersionOutOfRange = errors.New("timeline: version out of range")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the Timeline of one chat view. It is safe for concurrent use,
// although under normal operation only the owning exchange client writes.
type Store struct {
	mu       sync.RWMutex
	messages []Message

	// versions holds every known branch per user message id.
	versions map[string][]Version

	newID func() string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		versions: make(map[string][]Version),
		newID:    newTempID,
	}
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

// BeginTurn appends a user entry holding text and a loading assistant
// placeholder. Both share the returned temporary id.
func (s *Store) BeginTurn(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	s.messages = append(s.messages,
		Message{Role: RoleUser, Content: text, TempID: id},
		Message{Role: RoleAssistant, TempID: id, Loading: true},
	)
	return id
}

// AppendToken concatenates text onto the assistant entry identified by id
// (temporary or server id) and clears its loading flag. It reports whether
// the entry was found.
func (s *Store) AppendToken(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.assistantIndexLocked(id)
	if idx < 0 {
		return false
	}
	s.messages[idx].Content += text
	s.messages[idx].Loading = false
	return true
}

// CompleteTurn finalizes the assistant entry identified by id.
func (s *Store) CompleteTurn(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.assistantIndexLocked(id)
	if idx < 0 {
		return false
	}
	s.messages[idx].Loading = false
	return true
}

// FailTurn replaces the assistant entry's content with message.
func (s *Store) FailTurn(id, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.assistantIndexLocked(id)
	if idx < 0 {
		return false
	}
	s.messages[idx].Content = message
	s.messages[idx].Loading = false
	return true
}

// BeginEdit replaces the content of the user entry messageID, resets its
// paired assistant entry to an empty loading state and drops every entry
// after the pair. The backend truncates its own history the same way when
// it regenerates from an edited message. The returned slice is a copy of
// the truncated timeline.
func (s *Store) BeginEdit(messageID, newText string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userIdx := -1
	for i, m := range s.messages {
		if m.Role == RoleUser && m.MessageID == messageID {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return nil, errors.Wrapf(ErrMessageNotFound, "edit %q", messageID)
	}

	user := &s.messages[userIdx]
	branches := s.versions[messageID]
	if len(branches) == 0 {
		branches = []Version{{Content: user.Content, Assistant: s.pairedContentLocked(userIdx)}}
	} else if user.VersionIndex < len(branches) {
		branches[user.VersionIndex] = Version{Content: user.Content, Assistant: s.pairedContentLocked(userIdx)}
	}
	branches = append(branches, Version{Content: newText})
	s.versions[messageID] = branches

	user.Content = newText
	user.VersionIndex = len(branches) - 1
	user.TotalVersions = len(branches)

	// A missing assistant pair is recreated rather than treated as an error.
	pending := Message{Role: RoleAssistant, MessageID: messageID, Loading: true}
	next := userIdx + 1
	if next < len(s.messages) && s.messages[next].Role == RoleAssistant {
		s.messages[next] = pending
		s.messages = s.messages[:next+1]
	} else {
		s.messages = append(s.messages[:next], pending)
	}

	s.pruneVersionsLocked()
	return s.copyLocked(), nil
}

// =============================================================================
// SERVER RELOAD
// =============================================================================

// ReplaceFromServer discards the timeline and rebuilds it from the backend's
// representation. Legacy flat entries become a user/assistant pair; a
// versioned entry contributes the pair of its active version.
func (s *Store) ReplaceFromServer(msgs []ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	s.versions = make(map[string][]Version)

	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if len(m.Versions) == 0 {
			if m.Role != RoleUser {
				continue
			}
			assistant := ""
			if i+1 < len(msgs) && msgs[i+1].Role == RoleAssistant {
				assistant = msgs[i+1].Content
				i++
			}
			s.messages = append(s.messages,
				Message{Role: RoleUser, Content: m.Content, MessageID: m.ID},
				Message{Role: RoleAssistant, Content: assistant, MessageID: m.ID},
			)
			continue
		}

		active := activeIndex(m.ActiveVersion, len(m.Versions))
		v := m.Versions[active]
		s.messages = append(s.messages,
			Message{
				Role:          RoleUser,
				Content:       v.Content,
				MessageID:     m.ID,
				VersionIndex:  active,
				TotalVersions: len(m.Versions),
			},
			Message{Role: RoleAssistant, Content: v.Assistant, MessageID: m.ID},
		)
		s.versions[m.ID] = append([]Version(nil), m.Versions...)
	}
}

// activeIndex converts the backend's 1-based active version to a slice
// index, clamped into range.
func activeIndex(active, total int) int {
	idx := 0
	if active > 0 {
		idx = active - 1
	}
	if idx >= total {
		idx = total - 1
	}
	return idx
}

// =============================================================================
// VERSION NAVIGATION
// =============================================================================

// SelectVersion loads branch index of the edited user entry messageID into
// its existing pair. Nothing else in the timeline changes.
func (s *Store) SelectVersion(messageID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userIdx := -1
	for i, m := range s.messages {
		if m.Role == RoleUser && m.MessageID == messageID {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return errors.Wrapf(ErrMessageNotFound, "select version of %q", messageID)
	}

	branches := s.versions[messageID]
	if index < 0 || index >= len(branches) {
		return errors.Wrapf(ErrVersionOutOfRange, "version %d of %d", index+1, len(branches))
	}

	user := &s.messages[userIdx]
	if user.VersionIndex < len(branches) {
		branches[user.VersionIndex] = Version{Content: user.Content, Assistant: s.pairedContentLocked(userIdx)}
	}

	v := branches[index]
	user.Content = v.Content
	user.VersionIndex = index
	user.TotalVersions = len(branches)
	if next := userIdx + 1; next < len(s.messages) && s.messages[next].Role == RoleAssistant {
		s.messages[next].Content = v.Assistant
		s.messages[next].Loading = false
	}
	return nil
}

// =============================================================================
// READ ACCESS
// =============================================================================

// Messages returns a copy of the timeline.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Loading reports whether any assistant entry is still waiting for output.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.Loading {
			return true
		}
	}
	return false
}

// Versions returns a copy of the known branches of messageID.
func (s *Store) Versions(messageID string) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Version(nil), s.versions[messageID]...)
}

// Reset empties the timeline, as when starting a new chat.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.versions = make(map[string][]Version)
}

// CheckPairing verifies that the timeline is a sequence of user entries each
// immediately followed by an assistant entry with the same identity.
func (s *Store) CheckPairing() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages)%2 != 0 {
		return fmt.Errorf("timeline has odd length %d", len(s.messages))
	}
	for i := 0; i < len(s.messages); i += 2 {
		u, a := s.messages[i], s.messages[i+1]
		if u.Role != RoleUser {
			return fmt.Errorf("entry %d: want user, got %s", i, u.Role)
		}
		if a.Role != RoleAssistant {
			return fmt.Errorf("entry %d: want assistant, got %s", i+1, a.Role)
		}
		if u.ID() != a.ID() {
			return fmt.Errorf("entry %d: assistant %q is not paired with user %q", i+1, a.ID(), u.ID())
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// assistantIndexLocked finds the most recent assistant entry whose temporary
// or server id equals id.
func (s *Store) assistantIndexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Role == RoleAssistant && (m.TempID == id || m.MessageID == id) {
			return i
		}
	}
	return -1
}

func (s *Store) pairedContentLocked(userIdx int) string {
	if next := userIdx + 1; next < len(s.messages) && s.messages[next].Role == RoleAssistant {
		return s.messages[next].Content
	}
	return ""
}

// pruneVersionsLocked forgets branches of messages no longer in the timeline.
func (s *Store) pruneVersionsLocked() {
	live := make(map[string]bool, len(s.messages))
	for _, m := range s.messages {
		if m.MessageID != "" {
			live[m.MessageID] = true
		}
	}
	for id := range s.versions {
		if !live[id] {
			delete(s.versions, id)
		}
	}
}

func (s *Store) copyLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}
