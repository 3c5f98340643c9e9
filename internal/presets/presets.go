// Package presets is the built-in catalogue of style presets. Each preset
// pairs a short directive prompt with a long negative prompt so the model
// keeps the original composition.
package presets

import (
	"strings"

	"variations/internal/orchestrator"
)

type Category string

const (
	Artistic Category = "Artistic"
	Photo    Category = "Photo"
	Fantasy  Category = "Fantasy"
)

type Preset struct {
	Name           string   `json:"name"`
	Category       Category `json:"category"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negativePrompt"`
	Strength       float64  `json:"strength"`
}

var catalogue = []Preset{
	{
		Name:           "Oil Painting",
		Category:       Artistic,
		Prompt:         "Apply classical oil painting style with visible brush strokes and canvas texture",
		NegativePrompt: "photograph, photorealistic, photo, digital art, flat colors, no texture, smooth surface, different composition, changed layout, altered subject, moved elements, repositioned objects, deformed, distorted, blurry, low quality, bad anatomy, disfigured, ugly, artificial, plastic look, oversaturated",
		Strength:       0.4,
	},
	{
		Name:           "Watercolor",
		Category:       Artistic,
		Prompt:         "Apply watercolor painting style with soft flowing colors and paper texture",
		NegativePrompt: "photograph, photo, sharp edges, hard lines, digital, flat, no texture, different composition, changed layout, altered pose, moved subject, repositioned elements, deformed, distorted, blurry, low quality, artificial, oversaturated, dark, muddy colors",
		Strength:       0.35,
	},
	{
		Name:           "Sketch",
		Category:       Artistic,
		Prompt:         "Apply pencil sketch style with hand-drawn lines and crosshatching",
		NegativePrompt: "color, colored, painted, photograph, photo, digital, smooth, no lines, no texture, different composition, changed layout, altered subject, moved elements, deformed anatomy, distorted features, blurry, low quality, messy, unclear lines, smudged",
		Strength:       0.45,
	},
	{
		Name:           "Digital Art",
		Category:       Artistic,
		Prompt:         "Apply modern digital art style with vibrant colors and smooth rendering",
		NegativePrompt: "photograph, photo, traditional painting, old style, rough texture, grainy, different composition, changed layout, altered pose, moved subject, repositioned elements, deformed, distorted, blurry, low quality, bad anatomy, pixelated, compression artifacts",
		Strength:       0.38,
	},
	{
		Name:           "Vintage",
		Category:       Photo,
		Prompt:         "Apply vintage photo effect with retro color grading and subtle film grain",
		NegativePrompt: "modern, digital, sharp, clean, oversaturated, vibrant, different composition, changed layout, altered subject, moved elements, repositioned objects, added objects, removed objects, deformed, distorted, blurry beyond vintage effect, low quality, artificial HDR",
		Strength:       0.25,
	},
	{
		Name:           "Black and White",
		Category:       Photo,
		Prompt:         "Convert to black and white photography with rich tonal range",
		NegativePrompt: "color, colored, colorful, tinted, sepia beyond black and white, different composition, changed layout, altered subject, moved elements, repositioned objects, added elements, removed elements, deformed, distorted, low contrast, muddy, blurry, low quality",
		Strength:       0.22,
	},
	{
		Name:           "HDR",
		Category:       Photo,
		Prompt:         "Apply HDR photography effect with enhanced dynamic range and vivid details",
		NegativePrompt: "flat, dull, underexposed, overexposed, overprocessed, unrealistic, cartoon, painted, different composition, changed layout, altered subject, moved elements, repositioned objects, halos, artifacts, deformed, distorted, blurry, low quality, fake looking",
		Strength:       0.2,
	},
	{
		Name:           "Film Grain",
		Category:       Photo,
		Prompt:         "Apply 35mm film photography effect with natural grain texture and cinematic color",
		NegativePrompt: "digital, clean, sharp, no grain, plastic look, oversaturated, different composition, changed layout, altered subject, moved elements, repositioned objects, deformed, distorted, excessive grain, noise, blurry beyond film aesthetic, low quality, artificial",
		Strength:       0.25,
	},
	{
		Name:           "Anime",
		Category:       Fantasy,
		Prompt:         "Apply anime art style with cel-shading and clean outlines",
		NegativePrompt: "realistic photograph, photorealistic, photo, real life, 3D render, western cartoon, different composition, changed layout, altered pose, moved subject, repositioned elements, different character, changed face, deformed anatomy, distorted features, wrong proportions, extra limbs, missing limbs, blurry, low quality, bad anatomy, ugly, disfigured, malformed, mutation",
		Strength:       0.35,
	},
	{
		Name:           "Cartoon",
		Category:       Fantasy,
		Prompt:         "Apply cartoon illustration style with bold outlines and simplified shapes",
		NegativePrompt: "realistic, photograph, photo, detailed, complex, textured, anime, different composition, changed layout, altered pose, moved subject, repositioned elements, different character, deformed anatomy, distorted features, wrong proportions, blurry, low quality, bad anatomy, ugly, messy lines, unclear",
		Strength:       0.4,
	},
	{
		Name:           "Comic Book",
		Category:       Fantasy,
		Prompt:         "Apply comic book art style with bold ink lines and vibrant colors",
		NegativePrompt: "photograph, photo, realistic, soft, watercolor, no outlines, different composition, changed layout, altered pose, moved subject, repositioned elements, different scene, deformed anatomy, distorted features, wrong proportions, blurry, low quality, bad anatomy, messy, unclear lines, muddy colors",
		Strength:       0.38,
	},
}

type Group struct {
	Category Category `json:"category"`
	Presets  []Preset `json:"presets"`
}

func All() []Preset {
	return append([]Preset(nil), catalogue...)
}

// Categories groups the catalogue in display order.
func Categories() []Group {
	groups := []Group{{Category: Artistic}, {Category: Photo}, {Category: Fantasy}}
	for _, p := range catalogue {
		for i := range groups {
			if groups[i].Category == p.Category {
				groups[i].Presets = append(groups[i].Presets, p)
			}
		}
	}
	return groups
}

// Lookup finds a preset by name, ignoring case and surrounding spaces.
func Lookup(name string) (Preset, bool) {
	name = strings.TrimSpace(name)
	for _, p := range catalogue {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Preset{}, false
}

// Apply overwrites the prompt, negative prompt and strength of req with the
// preset's.
func Apply(p Preset, req *orchestrator.Request) {
	req.Prompt = p.Prompt
	req.NegativePrompt = p.NegativePrompt
	req.Strength = p.Strength
}
