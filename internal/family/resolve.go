package family

import "github.com/samber/lo"

// Wildcard addresses every member of a family.
const Wildcard = "all"

// Addressee is the parsed recipient expression of one dispatch.
type Addressee struct {
	raw string
	key string
}

func ParseAddressee(raw string) Addressee {
	return Addressee{raw: raw, key: NameKey(raw)}
}

func (a Addressee) IsWildcard() bool { return a.key == Wildcard }

// Empty reports a blank expression; it matches nobody.
func (a Addressee) Empty() bool { return a.key == "" }

func (a Addressee) String() string { return a.raw }

// Resolve returns the members of one family selected by the addressee.
//
// Members sharing a name are all returned: there is no way to tell them
// apart by voice. An empty result means "addressee not found".
func Resolve(members []Member, to Addressee) []Member {
	if to.Empty() {
		return nil
	}
	if to.IsWildcard() {
		return append([]Member(nil), members...)
	}
	return lo.Filter(members, func(m Member, _ int) bool {
		return NameKey(m.Name) == to.key
	})
}
