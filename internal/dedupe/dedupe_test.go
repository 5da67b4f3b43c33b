package dedupe

import (
	"testing"

	"github.com/nadmax/harvq/internal/record"
	"github.com/stretchr/testify/assert"
)

func comment(identity, commentID int64) record.Comment {
	return record.Comment{IdentityID: identity, CommentID: commentID}
}

func TestByIdentity_KeepsFirstOccurrence(t *testing.T) {
	input := []record.Comment{
		comment(1, 10),
		comment(2, 11),
		comment(1, 12),
		comment(3, 13),
		comment(2, 14),
	}

	got := ByIdentity(input)

	assert.Equal(t, []record.Comment{comment(1, 10), comment(2, 11), comment(3, 13)}, got)
}

func TestByIdentity_Idempotent(t *testing.T) {
	input := []record.Comment{comment(5, 1), comment(5, 2), comment(6, 3), comment(7, 4), comment(6, 5)}

	once := ByIdentity(input)
	twice := ByIdentity(once)

	assert.Equal(t, once, twice)
}

func TestByIdentity_DoesNotMutateInput(t *testing.T) {
	input := []record.Comment{comment(1, 1), comment(1, 2)}
	before := append([]record.Comment(nil), input...)

	_ = ByIdentity(input)

	assert.Equal(t, before, input)
}

func TestByIdentity_Empty(t *testing.T) {
	assert.Empty(t, ByIdentity(nil))
}

func TestFirst_CustomKey(t *testing.T) {
	words := []string{"apple", "avocado", "banana", "blueberry", "cherry"}

	got := First(words, func(s string) byte { return s[0] })

	assert.Equal(t, []string{"apple", "banana", "cherry"}, got)
}
