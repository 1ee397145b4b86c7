package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

// TestSendAndCheckRoundTrip exercises testable property 4: round-trip
// mail preserves subject/body/from, and an unread_only check omits a
// message once it has been marked read.
func TestSendAndCheckRoundTrip(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Send("c", "", []string{"r"}, "hi", "1", PriorityNormal)
	require.NoError(t, err)

	records, err := store.List("r", "inbox", false, "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hi", records[0].Subject)
	assert.Equal(t, "1", records[0].Body)
	assert.Equal(t, "c", records[0].From)

	require.NoError(t, store.MarkRead("r", id, "r"))

	records, err = store.List("r", "inbox", false, "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].ReadBy, "r")

	unread, err := store.List("r", "inbox", true, "", "")
	require.NoError(t, err)
	assert.Empty(t, unread)
}

// TestMailFanOutAndReplyAll exercises scenario S3: one send to two
// recipients, then a reply-all whose subject gains a single "Re: "
// prefix and lands in every other original recipient's inbox plus the
// original sender's, and whose reply is recorded on the original.
func TestMailFanOutAndReplyAll(t *testing.T) {
	store := newTestStore(t)

	origID, err := store.Send("C", "", []string{"D", "E"}, "hi", "1", PriorityNormal)
	require.NoError(t, err)

	original, err := store.Get("D", "inbox", origID)
	require.NoError(t, err)

	replyTo := []string{original.From}
	for _, to := range original.To {
		if to != "D" {
			replyTo = append(replyTo, to)
		}
	}

	_, err = store.AppendReply("D", origID, Reply{ID: "r1", From: "D", Body: "2"}, replyTo, "Re: hi", "2", "D", "")
	require.NoError(t, err)

	forE, err := store.List("E", "inbox", false, "", "")
	require.NoError(t, err)
	require.Len(t, forE, 1)
	assert.Equal(t, "Re: hi", forE[0].Subject)
	assert.Equal(t, "2", forE[0].Body)

	forC, err := store.List("C", "inbox", false, "", "")
	require.NoError(t, err)
	require.Len(t, forC, 1)
	assert.Equal(t, "Re: hi", forC[0].Subject)

	updatedOriginal, err := store.Get("D", "inbox", origID)
	require.NoError(t, err)
	require.Len(t, updatedOriginal.Replies, 1)
	assert.Equal(t, "2", updatedOriginal.Replies[0].Body)
}

func TestSendRequiresAtLeastOneRecipient(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Send("c", "", nil, "hi", "body", PriorityNormal)
	require.Error(t, err)
}

func TestListAllFolderMergesInboxAndSent(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Send("a", "", []string{"b"}, "s1", "b1", PriorityNormal)
	require.NoError(t, err)
	_, err = store.Send("b", "", []string{"a"}, "s2", "b2", PriorityNormal)
	require.NoError(t, err)

	all, err := store.List("a", "all", false, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPriorityIsAdvisoryOnly(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Send("a", "", []string{"r"}, "low one", "x", PriorityLow)
	require.NoError(t, err)
	_, err = store.Send("a", "", []string{"r"}, "urgent one", "y", PriorityUrgent)
	require.NoError(t, err)

	filtered, err := store.List("r", "inbox", false, "", PriorityUrgent)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "urgent one", filtered[0].Subject)
}
