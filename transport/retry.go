package transport

import "time"

// 重试上限。所有重试路径都有数值天花板，不存在无界循环。
const (
	// MaxNonceRetries 签名写操作遭遇 nonce 拒绝时换新 nonce 重发的次数上限。
	MaxNonceRetries = 3
	// MaxLockRetries 交易所“请求处理中”一类暂时锁的轮询上限。
	MaxLockRetries = 5
	// LockRetryDelay 轮询暂时锁之间的固定间隔。
	LockRetryDelay = 200 * time.Millisecond
)

// Retry 至多执行 attempts 次 fn，fn 返回 retry=false 或 err=nil 即停。
// 两次尝试之间等待 delay。返回最后一次的错误。
func Retry(attempts int, delay time.Duration, fn func(attempt int) (retry bool, err error)) error {
	var last error
	for i := 0; i < attempts; i++ {
		retry, err := fn(i)
		last = err
		if err == nil || !retry {
			return err
		}
		if delay > 0 && i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return last
}
