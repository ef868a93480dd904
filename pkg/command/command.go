package command

import "strings"

type Kind int

const (
	KindNone Kind = iota
	KindHelp
	KindGroupID
	KindVersion
	KindMembers
	KindKeyCheck
)

var kindNames = map[Kind]string{
	KindNone:     "none",
	KindHelp:     "help",
	KindGroupID:  "groupid",
	KindVersion:  "version",
	KindMembers:  "members",
	KindKeyCheck: "key-check",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

type TargetMode int

const (
	TargetSelf TargetMode = iota
	TargetInboxID
	TargetAddress
)

func (m TargetMode) String() string {
	switch m {
	case TargetInboxID:
		return "inboxid"
	case TargetAddress:
		return "address"
	default:
		return "self"
	}
}

// ParsedCommand is the structured form of a message body. TargetValue is set
// only when TargetMode is not TargetSelf.
type ParsedCommand struct {
	Kind        Kind
	TargetMode  TargetMode
	TargetValue string
}

var DefaultPrefixes = []string{"/key-check", "/kc"}

type Parser struct {
	prefixes []string
}

// NewParser returns a parser for the given prefixes, or DefaultPrefixes when
// none are usable.
func NewParser(prefixes ...string) *Parser {
	p := &Parser{}
	for _, prefix := range prefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			p.prefixes = append(p.prefixes, prefix)
		}
	}
	if len(p.prefixes) == 0 {
		p.prefixes = append(p.prefixes, DefaultPrefixes...)
	}
	return p
}

func (p *Parser) Prefixes() []string {
	out := make([]string, len(p.prefixes))
	copy(out, p.prefixes)
	return out
}

// Parse never fails. Text that is not addressed to the bot yields KindNone;
// unknown subcommands and subcommands missing their argument fall back to a
// key check of the sender.
func (p *Parser) Parse(raw string) ParsedCommand {
	parts := strings.Fields(raw)
	if len(parts) == 0 || !p.isPrefix(parts[0]) {
		return ParsedCommand{Kind: KindNone}
	}

	if len(parts) < 2 {
		return ParsedCommand{Kind: KindKeyCheck, TargetMode: TargetSelf}
	}

	switch parts[1] {
	case "help":
		return ParsedCommand{Kind: KindHelp}
	case "groupid":
		return ParsedCommand{Kind: KindGroupID}
	case "version":
		return ParsedCommand{Kind: KindVersion}
	case "members":
		return ParsedCommand{Kind: KindMembers}
	case "inboxid":
		if len(parts) > 2 {
			return ParsedCommand{Kind: KindKeyCheck, TargetMode: TargetInboxID, TargetValue: parts[2]}
		}
	case "address":
		if len(parts) > 2 {
			return ParsedCommand{Kind: KindKeyCheck, TargetMode: TargetAddress, TargetValue: parts[2]}
		}
	}

	return ParsedCommand{Kind: KindKeyCheck, TargetMode: TargetSelf}
}

func (p *Parser) isPrefix(token string) bool {
	for _, prefix := range p.prefixes {
		if token == prefix {
			return true
		}
	}
	return false
}

// Parse uses DefaultPrefixes.
func Parse(raw string) ParsedCommand {
	return defaultParser.Parse(raw)
}

var defaultParser = NewParser()
