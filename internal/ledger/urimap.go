package ledger

import (
	"net/url"
	"strings"
)

// AccountTemplate is the ledger's account URL template, e.g.
// "http://red.example/accounts/:name".
type AccountTemplate string

// URI substitutes name for the :name placeholder.
func (t AccountTemplate) URI(name string) string {
	return strings.Replace(string(t), ":name", url.PathEscape(name), 1)
}

// Name extracts the account name from accountURI by walking the template
// path and the candidate path position by position. The second return is
// false when the template has no placeholder or the candidate path is too
// short; callers treat that as a structural bug, not a normal-path error.
func (t AccountTemplate) Name(accountURI string) (string, bool) {
	templateURL, err := url.Parse(string(t))
	if err != nil {
		return "", false
	}
	accountURL, err := url.Parse(accountURI)
	if err != nil {
		return "", false
	}

	templatePath := strings.Split(templateURL.Path, "/")
	accountPath := strings.Split(accountURL.Path, "/")
	for i, segment := range templatePath {
		if segment != ":name" {
			continue
		}
		if i >= len(accountPath) {
			return "", false
		}
		name, err := url.PathUnescape(accountPath[i])
		if err != nil {
			return accountPath[i], true
		}
		return name, true
	}
	return "", false
}
