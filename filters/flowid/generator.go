package flowid

import (
	"fmt"
	"io"
	"math/rand"
	randv2 "math/rand/v2"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

const (
	flowIDAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-+"
	alphabetBitMask = 63
	MaxLength       = 64
	MinLength       = 8
	defaultLen      = 16
)

var (
	ErrInvalidLen = fmt.Errorf("invalid length, must be between %d and %d", MinLength, MaxLength)

	standardFlowIDRegex = regexp.MustCompile(`^[0-9a-zA-Z+-]+$`)
	ulidRegex           = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)
)

// Generator creates flow ids.
type Generator interface {

	// Generate returns a new flow id or an error in case of failure.
	Generate() (string, error)

	// IsValid checks if the flow id has the format of the generator.
	IsValid(string) bool
}

type standardGenerator struct {
	length int
}

type ulidGenerator struct {
	sync.Mutex
	r io.Reader
}

type uuidGenerator struct{}

// NewStandardGenerator creates a generator that generates flow ids with
// length l from a 64 element alphabet. A single random int64 is used for
// up to 10 characters, taking 6 bits for each. It is safe for concurrent
// use.
func NewStandardGenerator(l int) (Generator, error) {
	if l < MinLength || l > MaxLength {
		return nil, ErrInvalidLen
	}

	return &standardGenerator{length: l}, nil
}

func (g *standardGenerator) Generate() (string, error) {
	u := make([]byte, g.length)
	for i := 0; i < g.length; i += 10 {
		b := randv2.Int64() // #nosec
		for e := 0; e < 10 && i+e < g.length; e++ {
			c := byte(b>>uint(6*e)) & alphabetBitMask
			u[i+e] = flowIDAlphabet[c]
		}
	}

	return string(u), nil
}

func (g *standardGenerator) IsValid(flowID string) bool {
	return len(flowID) >= MinLength && len(flowID) <= MaxLength && standardFlowIDRegex.MatchString(flowID)
}

// NewULIDGenerator creates a generator of time ordered, lexically sortable
// ids.
func NewULIDGenerator() Generator {
	return NewULIDGeneratorWithEntropy(rand.New(rand.NewSource(time.Now().UTC().UnixNano()))) // #nosec
}

// NewULIDGeneratorWithEntropy creates a ULID generator with a custom source
// of entropy.
func NewULIDGeneratorWithEntropy(r io.Reader) Generator {
	return &ulidGenerator{r: r}
}

func (g *ulidGenerator) Generate() (string, error) {
	g.Lock()
	id, err := ulid.New(ulid.Now(), g.r)
	g.Unlock()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (g *ulidGenerator) IsValid(flowID string) bool {
	return ulidRegex.MatchString(flowID)
}

// NewUUIDGenerator creates a generator of random, version 4 UUIDs.
func NewUUIDGenerator() Generator {
	return uuidGenerator{}
}

func (uuidGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (uuidGenerator) IsValid(flowID string) bool {
	_, err := uuid.Parse(flowID)
	return err == nil
}
