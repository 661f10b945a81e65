package charset

import (
	"github.com/gogs/chardet"
)

// minConfidence is the chardet confidence below which a guess is ignored.
const minConfidence = 50

// Detect guesses the charset of b statistically. The guess is only returned
// when it names an encoding Lookup knows and b decodes strictly with it.
func Detect(b []byte) (string, bool) {
	if len(b) == 0 {
		return "", false
	}
	res, err := chardet.NewTextDetector().DetectBest(b)
	if err != nil || res == nil || res.Confidence < minConfidence {
		return "", false
	}
	name := Normalize(res.Charset)
	if _, err := DecodeStrict(b, name); err != nil {
		return "", false
	}
	return name, true
}
