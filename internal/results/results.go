// Package results holds the typed output of every AI capability. Model output is
// free-form text, so it is parsed and validated here before anything else sees it.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrUnusableResponse = errors.New("no usable AI response")

var validate = validator.New(validator.WithRequiredStructEnabled())

type HairAnalysis struct {
	HairType        string   `json:"hair_type" validate:"required"`
	Texture         string   `json:"texture" validate:"required"`
	Condition       string   `json:"condition" validate:"required"`
	CurrentColor    string   `json:"current_color" validate:"required"`
	DamageLevel     int      `json:"damage_level" validate:"min=0,max=10"`
	Porosity        string   `json:"porosity,omitempty"`
	Observations    []string `json:"observations,omitempty"`
	Recommendations []string `json:"recommendations" validate:"required,min=1,dive,required"`
}

type ViewAnalysis struct {
	Angle string `json:"angle" validate:"required,oneof=front back left right top"`
	Notes string `json:"notes" validate:"required"`
}

type CompositeAnalysis struct {
	Summary string         `json:"summary" validate:"required"`
	Views   []ViewAnalysis `json:"views" validate:"required,min=1,dive"`
	Overall HairAnalysis   `json:"overall"`
}

type StyleSuggestion struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
	Suitability int    `json:"suitability" validate:"min=0,max=100"`
	Maintenance string `json:"maintenance,omitempty"`
}

type StyleRecommendations struct {
	FaceShape string            `json:"face_shape" validate:"required"`
	Styles    []StyleSuggestion `json:"styles" validate:"required,min=1,dive"`
}

type Product struct {
	Name   string `json:"name" validate:"required"`
	Amount string `json:"amount,omitempty"`
}

type RecipeStep struct {
	Order           int       `json:"order" validate:"min=1"`
	Title           string    `json:"title" validate:"required"`
	Instructions    string    `json:"instructions" validate:"required"`
	Products        []Product `json:"products,omitempty" validate:"dive"`
	DurationMinutes int       `json:"duration_minutes" validate:"min=0"`
}

type Recipe struct {
	TreatmentType         string       `json:"treatment_type" validate:"required,oneof=color cut perm"`
	Summary               string       `json:"summary" validate:"required"`
	Steps                 []RecipeStep `json:"steps" validate:"required,min=1,dive"`
	EstimatedTotalMinutes int          `json:"estimated_total_minutes" validate:"min=0"`
	Cautions              []string     `json:"cautions,omitempty"`
}

// TimelineWeek is one predicted future state. ImageURL is filled after image
// generation and stays empty when that generation failed.
type TimelineWeek struct {
	Week        int    `json:"week" validate:"min=1"`
	Description string `json:"description" validate:"required"`
	ImagePrompt string `json:"image_prompt" validate:"required"`
	ImageURL    string `json:"image_url"`
}

type TimelinePrediction struct {
	Summary         string         `json:"summary" validate:"required"`
	Weeks           []TimelineWeek `json:"weeks" validate:"required,min=1,dive"`
	MaintenanceTips []string       `json:"maintenance_tips,omitempty"`
}

// Result is implemented by every capability result type.
type Result interface {
	HairAnalysis | CompositeAnalysis | StyleRecommendations | Recipe | TimelinePrediction
}

// Parse decodes and validates model output into T. Every failure wraps
// ErrUnusableResponse.
func Parse[T Result](raw string) (*T, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrUnusableResponse)
	}
	var out T
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnusableResponse, err)
	}
	if err := validate.Struct(&out); err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrUnusableResponse, err)
	}
	return &out, nil
}

// extractJSON strips markdown fences and surrounding prose around the outermost object.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
