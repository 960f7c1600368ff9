package discovery

import (
	"math"
	"regexp"
	"strconv"
)

var (
	// ?width=300&h=200 and friends
	querySizePattern = regexp.MustCompile(`([?&;](?:width|height|w|h|wid|hei|sw|sh)=)(\d+)`)
	// Cloudinary-style w_300,h_200 path tokens
	tokenSizePattern = regexp.MustCompile(`(\b[wh]_)(\d+)`)
)

// RewriteCDN scales every recognized size parameter in rawURL so that the
// largest one reaches target, keeping their ratio. URLs without recognized
// parameters, or already at or above target, are returned unchanged.
func RewriteCDN(rawURL string, target int) string {
	largest := 0
	for _, re := range []*regexp.Regexp{querySizePattern, tokenSizePattern} {
		for _, m := range re.FindAllStringSubmatch(rawURL, -1) {
			if v, err := strconv.Atoi(m[2]); err == nil && v > largest {
				largest = v
			}
		}
	}
	if largest == 0 || largest >= target {
		return rawURL
	}

	factor := float64(target) / float64(largest)
	scale := func(re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(match string) string {
			sub := re.FindStringSubmatch(match)
			v, err := strconv.Atoi(sub[2])
			if err != nil {
				return match
			}
			return sub[1] + strconv.Itoa(int(math.Round(float64(v)*factor)))
		})
	}
	return scale(tokenSizePattern, scale(querySizePattern, rawURL))
}
