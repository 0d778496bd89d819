package intel

import (
	"regexp"
	"strings"
)

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedPlainRe = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ExtractJSON 从模型返回的自由文本中尽力抽取 JSON 负载。
//
// 按优先级尝试：
//  1. ```json 围栏块
//  2. 普通 ``` 围栏块
//  3. 最先出现的 '{' 或 '[' 到对应收尾符号的文本段；
//     数组起始在前时必须取方括号段，否则对象数组会被截成 "{...}, {...}"
//  4. 以上都不匹配时返回去除首尾空白的原文
func ExtractJSON(text string) string {
	if m := fencedJSONRe.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	if m := fencedPlainRe.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if span := braceSpan(text, '[', ']'); span != "" {
			return span
		}
	}
	if span := braceSpan(text, '{', '}'); span != "" {
		return span
	}
	if span := braceSpan(text, '[', ']'); span != "" {
		return span
	}
	return strings.TrimSpace(text)
}

func braceSpan(text string, open, closing byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, closing)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
