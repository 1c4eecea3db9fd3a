package intent

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"a2a-agent/internal/capability"
)

// ParamMaxWords 是摘要长度参数名。
const ParamMaxWords = "max_words"

const (
	minMaxWords = 1
	maxMaxWords = 1000
)

// Rule 把一组关键词映射到技能。规则按声明顺序匹配，先命中者胜出。
type Rule struct {
	Skill    string
	Keywords []string

	pattern *regexp.Regexp
}

// DefaultRules 返回内置的规则顺序：抽取优先于情绪分析，情绪分析优先于摘要。
func DefaultRules() []Rule {
	return []Rule{
		{Skill: capability.SkillExtract, Keywords: []string{
			"extract", "extraction", "entities", "entity", "pull out", "parse", "find all",
		}},
		{Skill: capability.SkillSentiment, Keywords: []string{
			"sentiment", "feeling", "feelings", "emotion", "emotions", "tone", "mood", "opinion", "positive or negative",
		}},
		{Skill: capability.SkillSummarize, Keywords: []string{
			"summarize", "summarise", "summary", "tl;dr", "tldr", "condense", "shorten", "key points", "brief",
		}},
	}
}

// Classifier 是基于关键词的意图分类器，构造后只读，可并发使用。
type Classifier struct {
	rules    []Rule
	fallback string
	policy   *bluemonday.Policy
}

// Option 定义可选配置。
type Option func(*Classifier)

// WithRules 替换规则列表。
func WithRules(rules ...Rule) Option {
	return func(c *Classifier) {
		c.rules = append([]Rule(nil), rules...)
	}
}

// WithFallback 设置未命中任何规则时使用的技能。
func WithFallback(skill string) Option {
	return func(c *Classifier) {
		if skill != "" {
			c.fallback = skill
		}
	}
}

// New 构造 Classifier。
func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules:    DefaultRules(),
		fallback: capability.SkillSummarize,
		policy:   bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	for i := range c.rules {
		c.rules[i].pattern = compileKeywords(c.rules[i].Keywords)
	}
	return c
}

func compileKeywords(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?:^|[^a-z0-9])(?:` + strings.Join(quoted, "|") + `)(?:$|[^a-z0-9])`)
}

// Classify 返回文本对应的技能名，未命中时返回默认技能。
// 先只看指令部分（第一个冒号或第一句之前），指令未命中任何规则时才看全文，
// 正文里的普通词汇不会覆盖指令里的动词。
func (c *Classifier) Classify(text string) string {
	lower := strings.ToLower(text)
	head := instruction(lower)
	if skill, ok := c.match(head); ok {
		return skill
	}
	if len(head) < len(lower) {
		if skill, ok := c.match(lower); ok {
			return skill
		}
	}
	return c.fallback
}

func (c *Classifier) match(text string) (string, bool) {
	for _, rule := range c.rules {
		if rule.pattern != nil && rule.pattern.MatchString(text) {
			return rule.Skill, true
		}
	}
	return "", false
}

// instruction 截取第一个冒号、换行或句末标点之前的部分。
func instruction(text string) string {
	end := len(text)
	if i := strings.IndexAny(text, ":\n?!"); i >= 0 {
		end = i
	}
	if i := strings.Index(text, ". "); i >= 0 && i < end {
		end = i
	}
	return text[:end]
}

// Fallback 返回默认技能。
func (c *Classifier) Fallback() string {
	return c.fallback
}

// markupPattern 识别真正的 HTML：闭合标签、带属性的标签、常见元素的裸标签、
// 注释与 doctype。a<b and c>d 这类比较表达式不会命中。
var markupPattern = regexp.MustCompile(`(?i)</[a-z][a-z0-9]*\s*>` +
	`|<(?:p|b|i|u|s|em|strong|br|hr|div|span|a|ul|ol|li|h[1-6]|table|thead|tbody|tr|td|th|script|style|code|pre|blockquote|img|html|head|body|title|small|sub|sup|iframe)\s*/?>` +
	`|<[a-z][a-z0-9]*(?:\s+[a-z_:][-a-z0-9_:.]*\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'<>=]+))+\s*/?>` +
	`|<!--|<!doctype`)

// IsMarkup 判断文本片段是否应按 HTML 处理。
func IsMarkup(text, mimeType string) bool {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return markupPattern.MatchString(text)
}

// Sanitize 仅在文本确实是 HTML 时去除标记并还原实体，纯文本原样保留。
func (c *Classifier) Sanitize(text string) string {
	return c.SanitizeAs(text, "")
}

// SanitizeAs 与 Sanitize 相同，但声明为 HTML 的片段一定会被清洗。
func (c *Classifier) SanitizeAs(text, mimeType string) string {
	if !IsMarkup(text, mimeType) {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(text)))
}

var maxWordsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:in|within|under|below|at most|no more than|max(?:imum)?(?: of)?|up to|about)\s+(\d{1,4})\s+words?\b`),
	regexp.MustCompile(`(?i)\b(\d{1,4})[- ]words?\s+(?:summary|summaries|version|overview|abstract)\b`),
	regexp.MustCompile(`(?i)\bmax_words\s*[:=]\s*(\d{1,4})\b`),
}

// ExtractParameter 从自由文本中抽取数值参数。目前仅支持 max_words，
// 取值需在 1..1000 之间；越界的匹配会被跳过，继续尝试后续模式。
func ExtractParameter(text, name string) (int, bool) {
	if name != ParamMaxWords {
		return 0, false
	}
	for _, pattern := range maxWordsPatterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil || n < minMaxWords || n > maxMaxWords {
			continue
		}
		return n, true
	}
	return 0, false
}
