package identity

import (
	"regexp"
	"strings"

	xerrors "ElizaDID/internal/errors"
)

var methodPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// DID 是解析后的去中心化身份标识 did:<method>:<id>。
type DID struct {
	Method string
	ID     string
}

// ParseDID 解析 DID 字符串。
func ParseDID(raw string) (DID, error) {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, "did:")
	if !ok {
		return DID{}, xerrors.New(xerrors.CodeInvalidArgument, "DID 必须以 did: 开头: "+raw)
	}
	method, id, ok := strings.Cut(rest, ":")
	if !ok || !methodPattern.MatchString(method) || id == "" {
		return DID{}, xerrors.New(xerrors.CodeInvalidArgument, "非法的 DID: "+raw)
	}
	return DID{Method: method, ID: id}, nil
}

// String 返回 DID 的规范字符串。
func (d DID) String() string {
	return "did:" + d.Method + ":" + d.ID
}

// lastSegment 返回方法内标识符的最后一段，例如 did:ethr:sepolia:0xabc 中的 0xabc。
func (d DID) lastSegment() string {
	if idx := strings.LastIndex(d.ID, ":"); idx >= 0 {
		return d.ID[idx+1:]
	}
	return d.ID
}
