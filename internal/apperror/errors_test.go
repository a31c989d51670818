package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("borrow: %w", NotFound("book"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "book not found", Message(err))
}

func TestInvalidStateMessage(t *testing.T) {
	err := InvalidState("cannot delete book with %s", "active loans")

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "cannot delete book with active loans", err.Error())
}

func TestMessageFallsBackToErrorText(t *testing.T) {
	assert.Equal(t, "boom", Message(errors.New("boom")))
	assert.ErrorIs(t, RateLimited("register member"), ErrRateLimited)
}

func TestValidationIsInvalidInput(t *testing.T) {
	err := Validation("title is required")

	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, InvalidInput("Invalid ID format"), ErrValidation)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("6F9619FF-8B86-D011-B42D-00C04FC964FF")
	assert.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", id)

	_, err = ParseID("not-an-id")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "Invalid ID format", Message(err))
}
