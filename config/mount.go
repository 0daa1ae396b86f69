package config

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"
)

// MountID is the element the UI attaches to.
const MountID = "root"

var ErrMissingMount = errors.New("config: mount point missing")

// VerifyMount checks that page has an element with id MountID. Only the
// development environment checks.
func (c *Config) VerifyMount(page io.Reader) error {
	if c.Environment != Development {
		return nil
	}
	doc, err := html.Parse(page)
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}
	if !hasID(doc, MountID) {
		return fmt.Errorf("%w: no element with id %q", ErrMissingMount, MountID)
	}
	return nil
}

func hasID(n *html.Node, id string) bool {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasID(c, id) {
			return true
		}
	}
	return false
}
