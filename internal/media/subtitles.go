package media

import (
	"path"
	"strings"
	"unicode"

	"github.com/mtahle/torrent-streamer/internal/domain"
	"golang.org/x/text/language"
)

const unknownLanguage = "unknown"

var languageNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"espanol":    "es",
	"french":     "fr",
	"francais":   "fr",
	"german":     "de",
	"deutsch":    "de",
	"italian":    "it",
	"portuguese": "pt",
	"brazilian":  "pt",
	"russian":    "ru",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"arabic":     "ar",
	"dutch":      "nl",
	"swedish":    "sv",
	"polish":     "pl",
	"turkish":    "tr",
	"hebrew":     "he",
	"hindi":      "hi",
	"greek":      "el",
	"danish":     "da",
	"finnish":    "fi",
	"norwegian":  "no",
	"czech":      "cs",
	"hungarian":  "hu",
	"romanian":   "ro",
	"ukrainian":  "uk",
	"vietnamese": "vi",
	"thai":       "th",
	"indonesian": "id",
	"persian":    "fa",
	"farsi":      "fa",
}

// knownCodes bounds what a bare two or three letter token may map to, so
// ordinary words in release names are not read as languages.
var knownCodes = func() map[string]struct{} {
	out := make(map[string]struct{}, len(languageNames))
	for _, code := range languageNames {
		out[code] = struct{}{}
	}
	return out
}()

// InferLanguage looks for a language code or name token in a subtitle
// filename, scanning from the end where release tools put it.
func InferLanguage(name string) string {
	stem := strings.TrimSuffix(baseName(name), path.Ext(baseName(name)))
	tokens := strings.FieldsFunc(strings.ToLower(stem), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		if code, ok := languageNames[tok]; ok {
			return code
		}
		if len(tok) != 2 && len(tok) != 3 {
			continue
		}
		base, err := language.ParseBase(tok)
		if err != nil {
			continue
		}
		if _, ok := knownCodes[base.String()]; ok {
			return base.String()
		}
	}
	return unknownLanguage
}

// MatchSubtitles returns subtitle files whose base name contains, or is
// contained in, the video's base name.
func MatchSubtitles(videoName string, files []domain.FileDescriptor) []domain.SubtitleTrack {
	videoStem := stemLower(videoName)
	if videoStem == "" {
		return nil
	}

	var out []domain.SubtitleTrack
	for _, f := range files {
		if !IsSubtitle(f.Name) {
			continue
		}
		subStem := stemLower(f.Name)
		if subStem == "" {
			continue
		}
		if !strings.Contains(subStem, videoStem) && !strings.Contains(videoStem, subStem) {
			continue
		}
		out = append(out, domain.SubtitleTrack{
			Index:       f.Index,
			Name:        baseName(f.Name),
			Language:    InferLanguage(f.Name),
			ContentType: SubtitleContentType(f.Name),
		})
	}
	return out
}

func stemLower(name string) string {
	b := baseName(name)
	return strings.ToLower(strings.TrimSuffix(b, path.Ext(b)))
}
