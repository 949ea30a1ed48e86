package types

import (
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
)

// HeadTag names the block the chain client reads as the chain head.
type HeadTag string

const (
	HeadLatest    HeadTag = "latest"
	HeadSafe      HeadTag = "safe"
	HeadFinalized HeadTag = "finalized"
)

var headTags = []HeadTag{HeadLatest, HeadSafe, HeadFinalized}

func (h HeadTag) String() string {
	return string(h)
}

func (h HeadTag) IsValid() bool {
	return slices.Contains(headTags, h)
}

// UnmarshalText lets config files spell the tag in any case.
func (h *HeadTag) UnmarshalText(data []byte) error {
	parsed, err := ParseHeadTag(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (HeadTag) JSONSchema() *jsonschema.Schema {
	enum := make([]any, 0, len(headTags))
	for _, tag := range headTags {
		enum = append(enum, tag.String())
	}

	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Head tag",
		Description: "Block tag used to read the chain head",
		Enum:        enum,
		Default:     HeadLatest.String(),
	}
}

// ParseHeadTag trims and lowercases s before matching it against the known tags.
func ParseHeadTag(s string) (HeadTag, error) {
	tag := HeadTag(strings.ToLower(strings.TrimSpace(s)))
	if !tag.IsValid() {
		return "", fmt.Errorf("invalid head tag %q, expected one of %v", s, headTags)
	}
	return tag, nil
}
