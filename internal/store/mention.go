package store

import (
	"regexp"

	"github.com/EliteScore/chat-server/internal/model"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)`)

// ParseMentions 从消息内容提取 @ 提及并按成员表解析。
// @everyone 记为哨兵值 MentionEveryone；解析不到的 token 保持为普通文本，
// 不产生提及。结果去重并保持首次出现顺序
func ParseMentions(content string, roster map[string]int64) []int64 {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	var mentions []int64
	seen := make(map[int64]bool)
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			mentions = append(mentions, id)
		}
	}

	for _, match := range matches {
		token := match[1]
		if token == "everyone" {
			add(model.MentionEveryone)
			continue
		}
		if id, ok := roster[token]; ok {
			add(id)
		}
	}
	return mentions
}
