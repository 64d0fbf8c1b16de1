package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"autoflow.app/relay/internal/model"
)

var (
	ErrInvalidConfiguration = errors.New("invalid trigger configuration")
	ErrWrongProvider        = errors.New("registration has a different provider type")
)

// ChatPredicate is the canonical form of a chat-message registration.
type ChatPredicate struct {
	ChannelID           string
	GuildID             string
	Keywords            KeywordRule
	AllowDirectMessages bool
	IncludeBotAuthors   bool
}

// SocialPredicate is the canonical form of both social schema versions.
type SocialPredicate struct {
	CredentialID string
	Mode         model.SocialTriggerMode
	PostScope    string
	DM           KeywordRule
	Comment      KeywordRule
	// Version is the schema the configuration validated against.
	Version model.SchemaVersion
}

// AcceptsDM reports whether direct messages route to this registration.
func (p SocialPredicate) AcceptsDM() bool {
	return p.Mode == model.SocialTriggerDM || p.Mode == model.SocialTriggerBoth
}

// AcceptsComment reports whether comments route to this registration.
func (p SocialPredicate) AcceptsComment() bool {
	return p.Mode == model.SocialTriggerComment || p.Mode == model.SocialTriggerBoth
}

// Schemas holds compiled JSON Schemas reflected from the configuration
// structs in internal/model.
type Schemas struct {
	chat     *jsonschema.Schema
	combined *jsonschema.Schema
	legacy   *jsonschema.Schema
}

// NewSchemas reflects and compiles the configuration schemas.
func NewSchemas() (*Schemas, error) {
	chatDoc := reflectSchema(&model.ChatTriggerConfig{})

	// Unknown keys are allowed, but neither social layout may carry the
	// other's fields; otherwise each would accept the other's documents
	// and silently drop their keyword rules.
	combinedDoc := reflectSchema(&model.CombinedSocialConfig{})
	combinedDoc.PropertyNames = &invopop.Schema{Not: &invopop.Schema{Pattern: `^keyword`}}
	legacyDoc := reflectSchema(&model.LegacySocialConfig{})
	legacyDoc.PropertyNames = &invopop.Schema{Not: &invopop.Schema{Pattern: `^(triggerMode|dm|comment)`}}

	c := jsonschema.NewCompiler()
	docs := map[string]*invopop.Schema{
		"chat":     chatDoc,
		"combined": combinedDoc,
		"legacy":   legacyDoc,
	}
	for name, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", name, err)
		}
		parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		if err := c.AddResource(schemaURL(name), parsed); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
	}

	s := &Schemas{}
	var err error
	if s.chat, err = c.Compile(schemaURL("chat")); err != nil {
		return nil, fmt.Errorf("compile chat schema: %w", err)
	}
	if s.combined, err = c.Compile(schemaURL("combined")); err != nil {
		return nil, fmt.Errorf("compile combined schema: %w", err)
	}
	if s.legacy, err = c.Compile(schemaURL("legacy")); err != nil {
		return nil, fmt.Errorf("compile legacy schema: %w", err)
	}
	return s, nil
}

func schemaURL(name string) string {
	return "relay://schema/trigger/" + name + ".json"
}

func reflectSchema(v any) *invopop.Schema {
	reflector := invopop.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Anonymous:                  true,
	}
	return reflector.Reflect(v)
}

// NormalizeChat validates a chat-message registration and lifts it into a
// ChatPredicate.
func (s *Schemas) NormalizeChat(reg model.TriggerRegistration) (ChatPredicate, error) {
	if reg.ProviderType != model.ProviderChatMessage {
		return ChatPredicate{}, fmt.Errorf("%w: %s", ErrWrongProvider, reg.ProviderType)
	}

	doc, err := decodeConfiguration(reg.Configuration)
	if err != nil {
		return ChatPredicate{}, err
	}
	if err := s.chat.Validate(doc); err != nil {
		return ChatPredicate{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	var cfg model.ChatTriggerConfig
	if err := remarshal(doc, &cfg); err != nil {
		return ChatPredicate{}, err
	}

	return ChatPredicate{
		ChannelID:           strings.TrimSpace(cfg.ChannelID),
		GuildID:             strings.TrimSpace(cfg.GuildID),
		Keywords:            newKeywordRule(cfg.KeywordMatchMode, cfg.KeywordFilters),
		AllowDirectMessages: cfg.AllowDirectMessages,
		IncludeBotAuthors:   cfg.IncludeBotAuthors,
	}, nil
}

// NormalizeSocial validates a social registration against the combined or
// legacy schema and lifts the one that fits into a SocialPredicate. A document
// that fits neither is invalid.
func (s *Schemas) NormalizeSocial(reg model.TriggerRegistration) (SocialPredicate, error) {
	if !reg.ProviderType.IsSocial() {
		return SocialPredicate{}, fmt.Errorf("%w: %s", ErrWrongProvider, reg.ProviderType)
	}

	doc, err := decodeConfiguration(reg.Configuration)
	if err != nil {
		return SocialPredicate{}, err
	}

	order := socialSchemaOrder(reg.SchemaVersion, doc)

	var errs []error
	for _, version := range order {
		pred, err := s.normalizeSocialAs(version, doc)
		if err == nil {
			return pred, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", version, err))
	}
	return SocialPredicate{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
}

func (s *Schemas) normalizeSocialAs(version model.SchemaVersion, doc map[string]any) (SocialPredicate, error) {
	if version == model.SchemaVersionCombined {
		if err := s.combined.Validate(doc); err != nil {
			return SocialPredicate{}, err
		}
		var cfg model.CombinedSocialConfig
		if err := remarshal(doc, &cfg); err != nil {
			return SocialPredicate{}, err
		}
		mode := cfg.TriggerMode
		if mode == "" {
			mode = model.SocialTriggerBoth
		}
		return SocialPredicate{
			CredentialID: strings.TrimSpace(cfg.CredentialID),
			Mode:         mode,
			PostScope:    strings.TrimSpace(cfg.PostScope),
			DM:           newKeywordRule(cfg.DMKeywordMatchMode, cfg.DMKeywordFilters),
			Comment:      newKeywordRule(cfg.CommentKeywordMatchMode, cfg.CommentKeywordFilters),
			Version:      model.SchemaVersionCombined,
		}, nil
	}

	if err := s.legacy.Validate(doc); err != nil {
		return SocialPredicate{}, err
	}
	var cfg model.LegacySocialConfig
	if err := remarshal(doc, &cfg); err != nil {
		return SocialPredicate{}, err
	}
	rule := newKeywordRule(cfg.KeywordMatchMode, cfg.KeywordFilters)
	return SocialPredicate{
		CredentialID: strings.TrimSpace(cfg.CredentialID),
		Mode:         model.SocialTriggerBoth,
		PostScope:    strings.TrimSpace(cfg.PostScope),
		DM:           rule,
		Comment:      rule,
		Version:      model.SchemaVersionLegacy,
	}, nil
}

// socialSchemaOrder lists the schemas to try. A declared version comes first;
// older rows were not always tagged correctly, so the other schema is tried
// only when the document's keys have that schema's shape. Both schemas accept
// unknown keys, and a broken document retried against the wrong one would
// validate with no keyword rules and match everything.
func socialSchemaOrder(declared model.SchemaVersion, doc map[string]any) []model.SchemaVersion {
	detected := detectSocialShape(doc)
	switch declared {
	case model.SchemaVersionCombined, model.SchemaVersionLegacy:
		if detected == declared {
			return []model.SchemaVersion{declared}
		}
		return []model.SchemaVersion{declared, detected}
	}
	return []model.SchemaVersion{detected}
}

// detectSocialShape classifies a document by the keys only the combined
// layout has.
func detectSocialShape(doc map[string]any) model.SchemaVersion {
	for key := range doc {
		if key == "triggerMode" || strings.HasPrefix(key, "dm") || strings.HasPrefix(key, "comment") {
			return model.SchemaVersionCombined
		}
	}
	return model.SchemaVersionLegacy
}

// decodeConfiguration parses the stored configuration into a generic document.
// Editor forms persist unset fields as "" or null; those keys are dropped so
// they read as absent.
func decodeConfiguration(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: configuration is not an object", ErrInvalidConfiguration)
	}
	for k, val := range doc {
		if val == nil || val == "" {
			delete(doc, k)
		}
	}
	return doc, nil
}

func remarshal(doc map[string]any, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return nil
}
