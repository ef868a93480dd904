package memnet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zhaopengme/keycheck/pkg/messaging"
)

// Fixture describes a network in YAML for the console mode.
type Fixture struct {
	BotInboxID    string                       `yaml:"bot_inbox_id"`
	SDKVersion    string                       `yaml:"sdk_version"`
	Inboxes       []messaging.InboxState       `yaml:"inboxes"`
	KeyPackages   []messaging.KeyPackageStatus `yaml:"key_packages"`
	Conversations []FixtureConversation        `yaml:"conversations"`
}

type FixtureConversation struct {
	ID      string   `yaml:"id"`
	Members []string `yaml:"members"`
}

func LoadFixture(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

func ParseFixture(data []byte) (*Network, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if fx.BotInboxID == "" {
		return nil, fmt.Errorf("parse fixture: bot_inbox_id is required")
	}

	n := NewNetwork(fx.BotInboxID)
	if fx.SDKVersion != "" {
		n.SetVersion(fx.SDKVersion)
	}
	for _, inbox := range fx.Inboxes {
		n.AddInbox(inbox)
	}
	for _, kp := range fx.KeyPackages {
		n.SetKeyPackage(kp)
	}
	for _, c := range fx.Conversations {
		n.AddConversation(c.ID, c.Members...)
	}
	return n, nil
}

// DemoFixture is used by the console when no fixture file is given.
const DemoFixture = `
bot_inbox_id: b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0
sdk_version: memnet/1.0.0
inboxes:
  - inbox_id: a11ce0000000000000000000000000a1
    identifiers:
      - identifier: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
        kind: Ethereum
    installations:
      - id: 1a2b3c4d5e6f70819a0b1c2d3e4f5061
      - id: 9f8e7d6c5b4a39281706f5e4d3c2b1a0
      - id: deadbeef
  - inbox_id: b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0
    identifiers:
      - identifier: "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
        kind: Ethereum
    installations:
      - id: c0ffee00c0ffee00c0ffee00c0ffee00
key_packages:
  - installation_id: 1a2b3c4d5e6f70819a0b1c2d3e4f5061
    lifetime:
      not_before: 1700000000
      not_after: 1800000000
  - installation_id: 9f8e7d6c5b4a39281706f5e4d3c2b1a0
    validation_error: bad signature
  - installation_id: c0ffee00c0ffee00c0ffee00c0ffee00
    lifetime:
      not_before: 1750000000
      not_after: 1850000000
conversations:
  - id: console
    members:
      - b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0
      - a11ce0000000000000000000000000a1
`
