package generator

import "slices"

// BannedTokens returns the tokens that may not follow ids because they would complete an n-gram of
// size n that already occurs in ids. It returns nil when n is zero or the sequence is too short to
// contain a full n-gram.
func BannedTokens(ids []int, n int) map[int]struct{} {
	if n <= 0 || len(ids)+1 < n {
		return nil
	}

	banned := make(map[int]struct{})
	if n == 1 {
		for _, id := range ids {
			banned[id] = struct{}{}
		}
		return banned
	}

	// The last n-1 tokens form the prefix of the n-gram the next token would complete.
	prefix := ids[len(ids)-n+1:]
	for i := 0; i+n <= len(ids); i++ {
		if slices.Equal(ids[i:i+n-1], prefix) {
			banned[ids[i+n-1]] = struct{}{}
		}
	}
	return banned
}
