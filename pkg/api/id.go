package api

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	responseIDPrefix = "resp_"
	messageIDPrefix  = "msg_"
)

var (
	responseIDPattern = regexp.MustCompile(`^resp_[a-zA-Z0-9]{24}$`)
	messageIDPattern  = regexp.MustCompile(`^msg_[a-zA-Z0-9]{24}$`)
)

// NewResponseID generates a response ID: "resp_" followed by 24 random
// alphanumeric characters.
func NewResponseID() string {
	return responseIDPrefix + randomAlphanumeric(idLength)
}

// NewMessageID generates the message ID shared by all text and tool events
// of one logical request.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// NewEventID generates a unique stream event ID.
func NewEventID() string {
	return uuid.NewString()
}

// ValidateResponseID reports whether id has the response ID format.
func ValidateResponseID(id string) bool {
	return responseIDPattern.MatchString(id)
}

// ValidateMessageID reports whether id has the message ID format.
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
