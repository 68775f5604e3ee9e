package exchange

import (
	"fmt"
	"strings"
)

// VenueError 面向调用方的唯一错误类型。交易所自己的报文原样保留在
// Message 里，不做改写，调用方必要时可按已知子串甄别。
type VenueError struct {
	Venue   string
	Message string
}

func (e *VenueError) Error() string {
	return e.Venue + ":\t" + e.Message
}

// Errf 构造带格式化消息的 VenueError。
func Errf(venue, format string, args ...interface{}) *VenueError {
	return &VenueError{Venue: venue, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind 错误的粗分类。基于已知报文子串推断，大多数交易所不提供
// 结构化错误码，所以这只是尽力而为的启发式，不能作为强依据。
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransient 网络类暂时故障，调用方可自行决定重试。
	KindTransient
	// KindRejected 交易所明确拒绝（余额不足、低于最小单等）。
	KindRejected
	// KindNotFound 目标订单不存在或已消失。
	KindNotFound
)

var kindPatterns = []struct {
	kind ErrorKind
	subs []string
}{
	{KindTransient, []string{"timeout", "connection", "request timed out", "still processing", "temporarily"}},
	{KindNotFound, []string{"not found", "does not exist", "no such order", "order could not be cancelled"}},
	{KindRejected, []string{"insufficient", "not enough", "minimum", "below min", "invalid pair", "invalid amount", "invalid price"}},
}

// Kind 推断错误类别，见 ErrorKind 的说明。
func (e *VenueError) Kind() ErrorKind {
	msg := strings.ToLower(e.Message)
	for _, p := range kindPatterns {
		for _, s := range p.subs {
			if strings.Contains(msg, s) {
				return p.kind
			}
		}
	}
	return KindUnknown
}
