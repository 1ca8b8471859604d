package whip

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	attrICEUfrag        = "ice-ufrag"
	attrICEPwd          = "ice-pwd"
	attrMid             = "mid"
	attrCandidate       = "candidate"
	attrEndOfCandidates = "end-of-candidates"
)

// iceFragment is the content of an application/trickle-ice-sdpfrag body.
type iceFragment struct {
	ufrag string
	pwd   string
	media []*iceFragmentMedia
}

type iceFragmentMedia struct {
	mid             string
	ufrag           string
	pwd             string
	candidates      []string
	endOfCandidates bool
}

func (f *iceFragment) credentials(m *iceFragmentMedia) (string, string) {
	if m != nil && m.ufrag != "" && m.pwd != "" {
		return m.ufrag, m.pwd
	}
	return f.ufrag, f.pwd
}

func (f *iceFragment) mediaByMid(mid string) *iceFragmentMedia {
	for _, m := range f.media {
		if m.mid == mid {
			return m
		}
	}
	return nil
}

func attribute(attrs []sdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// buildICEFragment extracts ICE credentials and candidates from a full SDP.
func buildICEFragment(fullSDP string) (string, error) {
	var desc sdp.SessionDescription
	err := desc.Unmarshal([]byte(fullSDP))
	if err != nil {
		return "", fmt.Errorf("parse local description: %w", err)
	}

	ufrag, _ := attribute(desc.Attributes, attrICEUfrag)
	pwd, _ := attribute(desc.Attributes, attrICEPwd)
	if ufrag == "" || pwd == "" {
		for _, md := range desc.MediaDescriptions {
			u, ok1 := md.Attribute(attrICEUfrag)
			p, ok2 := md.Attribute(attrICEPwd)
			if ok1 && ok2 {
				ufrag, pwd = u, p
				break
			}
		}
	}
	if ufrag == "" || pwd == "" {
		return "", fmt.Errorf("local description has no ICE credentials")
	}

	var b strings.Builder
	b.WriteString("a=" + attrICEUfrag + ":" + ufrag + "\r\n")
	b.WriteString("a=" + attrICEPwd + ":" + pwd + "\r\n")

	for _, md := range desc.MediaDescriptions {
		format := "0"
		if len(md.MediaName.Formats) != 0 {
			format = md.MediaName.Formats[0]
		}
		fmt.Fprintf(&b, "m=%s 9 %s %s\r\n", md.MediaName.Media, strings.Join(md.MediaName.Protos, "/"), format)

		if mid, ok := md.Attribute(attrMid); ok {
			b.WriteString("a=" + attrMid + ":" + mid + "\r\n")
		}
		for _, a := range md.Attributes {
			switch a.Key {
			case attrCandidate:
				b.WriteString("a=" + attrCandidate + ":" + a.Value + "\r\n")
			case attrEndOfCandidates:
				b.WriteString("a=" + attrEndOfCandidates + "\r\n")
			}
		}
	}

	return b.String(), nil
}

// parseICEFragment parses a trickle-ICE fragment. Unknown lines are ignored.
func parseICEFragment(body string) (*iceFragment, error) {
	frag := &iceFragment{}
	var cur *iceFragmentMedia

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "m="):
			cur = &iceFragmentMedia{}
			frag.media = append(frag.media, cur)

		case strings.HasPrefix(line, "a="):
			key, value, _ := strings.Cut(line[2:], ":")
			switch key {
			case attrICEUfrag:
				if cur != nil {
					cur.ufrag = value
				} else {
					frag.ufrag = value
				}

			case attrICEPwd:
				if cur != nil {
					cur.pwd = value
				} else {
					frag.pwd = value
				}

			case attrMid:
				if cur != nil {
					cur.mid = value
				}

			case attrCandidate:
				if cur != nil {
					cur.candidates = append(cur.candidates, value)
				}

			case attrEndOfCandidates:
				if cur != nil {
					cur.endOfCandidates = true
				}
			}
		}
	}

	if frag.ufrag == "" || frag.pwd == "" {
		for _, m := range frag.media {
			if m.ufrag != "" && m.pwd != "" {
				return frag, nil
			}
		}
		return nil, fmt.Errorf("fragment has no ICE credentials")
	}
	return frag, nil
}

func setAttribute(attrs []sdp.Attribute, key string, value string) []sdp.Attribute {
	for i := range attrs {
		if attrs[i].Key == key {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, sdp.NewAttribute(key, value))
}

func withoutCandidates(attrs []sdp.Attribute) []sdp.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Key == attrCandidate || a.Key == attrEndOfCandidates {
			continue
		}
		out = append(out, a)
	}
	return out
}

// applyICEFragment merges the credentials and candidates of a fragment into a remote SDP.
func applyICEFragment(remoteSDP string, body string) (string, error) {
	frag, err := parseICEFragment(body)
	if err != nil {
		return "", err
	}

	var desc sdp.SessionDescription
	err = desc.Unmarshal([]byte(remoteSDP))
	if err != nil {
		return "", fmt.Errorf("parse remote description: %w", err)
	}

	if _, ok := attribute(desc.Attributes, attrICEUfrag); ok && frag.ufrag != "" {
		desc.Attributes = setAttribute(desc.Attributes, attrICEUfrag, frag.ufrag)
		desc.Attributes = setAttribute(desc.Attributes, attrICEPwd, frag.pwd)
	}

	for i, md := range desc.MediaDescriptions {
		mid, _ := md.Attribute(attrMid)
		fm := frag.mediaByMid(mid)
		if fm == nil && len(frag.media) == len(desc.MediaDescriptions) {
			fm = frag.media[i]
		}

		if _, ok := md.Attribute(attrICEUfrag); ok {
			ufrag, pwd := frag.credentials(fm)
			if ufrag != "" && pwd != "" {
				md.Attributes = setAttribute(md.Attributes, attrICEUfrag, ufrag)
				md.Attributes = setAttribute(md.Attributes, attrICEPwd, pwd)
			}
		}

		if fm != nil && (len(fm.candidates) != 0 || fm.endOfCandidates) {
			md.Attributes = withoutCandidates(md.Attributes)
			for _, c := range fm.candidates {
				md.Attributes = append(md.Attributes, sdp.NewAttribute(attrCandidate, c))
			}
			if fm.endOfCandidates {
				md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute(attrEndOfCandidates))
			}
		}
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
