// Package sign 提供各交易所要求的报文签名原语。
// 摘要算法由交易所服务端规定，不是本库的安全选型；相同输入必须得到相同输出,
// 服务端会独立重算并比对。
package sign

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"sort"
	"strings"
)

func hmacSum(h func() hash.Hash, key, msg []byte) []byte {
	mac := hmac.New(h, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// HMACSHA256Hex bitfinex 风格之外的通用 HMAC-SHA256，十六进制小写。
func HMACSHA256Hex(key, msg []byte) string {
	return hex.EncodeToString(hmacSum(sha256.New, key, msg))
}

// HMACSHA256UpperHex bitstamp 要求大写十六进制。
func HMACSHA256UpperHex(key, msg []byte) string {
	return strings.ToUpper(HMACSHA256Hex(key, msg))
}

// HMACSHA384Hex bitfinex 的 payload 签名。
func HMACSHA384Hex(key, msg []byte) string {
	return hex.EncodeToString(hmacSum(sha512.New384, key, msg))
}

// HMACSHA512Hex btce、exmo、poloniex 的表单签名。
func HMACSHA512Hex(key, msg []byte) string {
	return hex.EncodeToString(hmacSum(sha512.New, key, msg))
}

// HMACSHA512Base64 kraken 的签名输出编码。
func HMACSHA512Base64(key, msg []byte) string {
	return base64.StdEncoding.EncodeToString(hmacSum(sha512.New, key, msg))
}

// HMACSHA1Hex lakebtc 的 JSON-RPC 签名。
func HMACSHA1Hex(key, msg []byte) string {
	return hex.EncodeToString(hmacSum(sha1.New, key, msg))
}

// MD5Hex huobi 的参数摘要，小写。
func MD5Hex(msg []byte) string {
	sum := md5.Sum(msg)
	return hex.EncodeToString(sum[:])
}

// MD5UpperHex okcoin 的参数摘要，大写。
func MD5UpperHex(msg []byte) string {
	return strings.ToUpper(MD5Hex(msg))
}

// SHA256Digest kraken 报文里内嵌的原始 SHA256 摘要。
func SHA256Digest(msg []byte) []byte {
	sum := sha256.Sum256(msg)
	return sum[:]
}

// SortedParams 按键排序拼接成 k=v&k=v，okcoin/huobi 的签名报文格式。
func SortedParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

// Base64Decode kraken 的 secret 是 base64 编码的原始密钥。
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Base64Encode bitfinex 的 payload 与 lakebtc 的 basic auth 都要 base64。
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
