package unlock

import "fmt"

// Policy decides how to obtain a key once the passphrase file is exhausted
type Policy int

const (
	// PolicyFail gives up without prompting
	PolicyFail Policy = iota
	// PolicyWait blocks until the key is made available elsewhere
	PolicyWait
	// PolicyAsk prompts the user for a passphrase
	PolicyAsk
)

var policyNames = map[Policy]string{
	PolicyFail: "fail",
	PolicyWait: "wait",
	PolicyAsk:  "ask",
}

// ParsePolicy parses fail, wait or ask
func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid unlock policy %q (want fail, wait or ask)", s)
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Set implements pflag.Value
func (p *Policy) Set(s string) error {
	parsed, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Type implements pflag.Value
func (p *Policy) Type() string { return "policy" }
