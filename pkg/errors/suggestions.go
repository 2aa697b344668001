package errors

import "fmt"

// SuggestionGenerator generates actionable suggestions based on error category.
type SuggestionGenerator interface {
	Generate(category ErrorCategory, target string) []string
}

// NewSuggestionGenerator creates a new SuggestionGenerator.
func NewSuggestionGenerator() SuggestionGenerator {
	return &suggestionGenerator{}
}

// suggestionGenerator is the concrete implementation of SuggestionGenerator.
type suggestionGenerator struct{}

// Generate returns actionable suggestions based on the error category and target.
func (g *suggestionGenerator) Generate(category ErrorCategory, target string) []string {
	switch category {
	case CategoryAuth:
		return g.generateAuthSuggestions(target)
	case CategoryConnectTimeout:
		return g.generateTimeoutSuggestions(target)
	case CategoryFingerprint:
		return g.generateFingerprintSuggestions(target)
	case CategoryHostKeyUnverified:
		return []string{
			"Run a connection test and compare the reported fingerprint with the one your provider publishes",
			"Accept the fingerprint only once it matches",
		}
	case CategoryKeyRead:
		return []string{
			"Check that the private key path is correct and readable by the seedstream process",
			"Passphrase-protected keys are not supported; load the key into ssh-agent and clear the key path instead",
		}
	case CategoryNetwork:
		return g.generateNetworkSuggestions(target)
	case CategoryPermission:
		return []string{
			"Check that the SSH user can read the library directories",
			"Unreadable subdirectories are skipped during scans; fix their permissions and rescan",
		}
	case CategoryTransport:
		return []string{
			"The connection dropped; retry the operation to open a fresh session",
			"If it keeps happening, check the seedbox's SSH server logs and connection limits",
		}
	case CategoryUnknown:
		return g.generateUnknownSuggestions(target)
	default:
		return g.generateUnknownSuggestions(target)
	}
}

func (g *suggestionGenerator) generateAuthSuggestions(target string) []string {
	suggestions := []string{
		"Verify the username and that the public key is in the seedbox's ~/.ssh/authorized_keys",
	}

	if target != "" {
		suggestions = append(suggestions, fmt.Sprintf("Test the credentials with 'ssh -v %s'", target))
	}

	return append(suggestions, "Without a configured key path, make sure ssh-agent holds the right key")
}

func (g *suggestionGenerator) generateFingerprintSuggestions(target string) []string {
	suggestions := []string{
		"The host presented a different key than the one accepted earlier; treat this as a possible attack",
		"Confirm with your seedbox provider whether the server key was rotated",
	}

	if target != "" {
		suggestions = append(suggestions, "Check the current key with 'ssh-keyscan' against "+target)
	}

	return append(suggestions, "The stored fingerprint is never replaced automatically; clear it once the new key is verified, then accept the new one")
}

func (g *suggestionGenerator) generateNetworkSuggestions(target string) []string {
	suggestions := []string{
		"Check the host name and port",
	}

	if target != "" {
		suggestions = append(suggestions, "Confirm the SSH service is reachable at "+target)
	}

	return append(suggestions, "Check DNS and any firewall between this server and the seedbox")
}

func (g *suggestionGenerator) generateTimeoutSuggestions(target string) []string {
	suggestions := []string{
		"The seedbox did not finish the SSH handshake in time; it may be overloaded or filtering connections",
	}

	if target != "" {
		suggestions = append(suggestions, "Check that "+target+" answers with an SSH banner")
	}

	return append(suggestions, "Raise --connect-timeout if the link is slow")
}

func (g *suggestionGenerator) generateUnknownSuggestions(target string) []string {
	suggestions := []string{
		"Check the error message for more details",
		"Run the connection test from the admin page",
	}

	if target != "" {
		suggestions = append(suggestions, "Verify the host is reachable: "+target)
	}

	return suggestions
}
