package synth

import (
	"regexp"
	"strings"
)

var outerFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\n?```$")

// extractTag returns the content between the first <tag> and the last
// </tag>. ok is false when either marker is missing.
func extractTag(text, tag string) (string, bool) {
	openTag, closeTag := "<"+tag+">", "</"+tag+">"
	start := strings.Index(text, openTag)
	if start < 0 {
		return "", false
	}
	start += len(openTag)
	end := strings.LastIndex(text, closeTag)
	if end < start {
		return "", false
	}
	return text[start:end], true
}

// stripFence removes a code fence wrapping the whole answer.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if m := outerFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// chunk splits n items into ceil(n/size) runs of near-equal length.
// A size of 0 keeps everything in one run.
func chunk(n, size int) [][2]int {
	if n == 0 {
		return [][2]int{{0, 0}}
	}
	if size <= 0 || size >= n {
		return [][2]int{{0, n}}
	}
	k := (n + size - 1) / size
	base, extra := n/k, n%k

	runs := make([][2]int, 0, k)
	start := 0
	for i := 0; i < k; i++ {
		l := base
		if i < extra {
			l++
		}
		runs = append(runs, [2]int{start, start + l})
		start += l
	}
	return runs
}
