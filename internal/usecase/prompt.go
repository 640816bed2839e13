// Package usecase contains the ingestion engine, the classification engine,
// and the supervisor loop that drives both.
package usecase

import (
	"fmt"
	"os"
)

// DefaultPrompt labels monarch photos when no prompt file is configured.
const DefaultPrompt = `You are labeling monarch butterfly photos for a research dataset.

Return ONLY valid JSON.

Labels:
- life_stage: one of ["egg","larva","pupa","adult","unknown"]
- adult_behaviors: array of zero or more of ["nectaring","mating","clustering","ovipositing","flying"]
- larva_stage: one of ["early","late","unknown"] (only if life_stage is larva, else "unknown")

Rules:
- If you cannot tell from the photo, use "unknown".
- Use observer notes only as supporting context; prefer what is visible in the image.
`

// LoadPrompt reads the prompt from path, falling back to the embedded
// default when path is empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return DefaultPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("op=usecase.LoadPrompt: %w", err)
	}
	return string(b), nil
}
