package extract

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Fault fields reported on records and metrics.
const (
	FieldCredits    = "credits"
	FieldMentions   = "mentions"
	FieldCurriculum = "curriculum"
	FieldTerm       = "term"
	FieldItem       = "item"
)

// Parse reads a detail page from r. pageURL is recorded on the program and
// used to resolve relative item links.
func (e *Extractor) Parse(r io.Reader, pageURL string, opts Options) (crawler.ProgramRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return crawler.ProgramRecord{}, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.ProgramRecord{}, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	sel := e.cfg.Selectors
	main := doc.Find(sel.MainContainer).First()
	name := normalizeText(main.Find(sel.Name).First().Text())
	if name == "" {
		e.note(opts, "Program name not found", zap.String("url", pageURL))
		return crawler.ProgramRecord{}, fmt.Errorf("%s: %w", pageURL, crawler.ErrNameExtraction)
	}

	program := crawler.ProgramRecord{
		Name:      name,
		SourceURL: pageURL,
		Items:     []crawler.ItemRecord{},
	}
	fault := func(field string, err error) {
		metrics.ObserveExtractionFault(field)
		program.Faults = append(program.Faults, fmt.Sprintf("%s: %v", field, err))
		e.note(opts, "Partial extraction",
			zap.String("program", name),
			zap.String("field", field),
			zap.Error(err),
		)
	}

	credits, err := e.creditLoad(main)
	if err != nil {
		fault(FieldCredits, err)
	}
	program.CreditLoad = credits

	mentions, err := e.mentions(main)
	if err != nil {
		fault(FieldMentions, err)
	}

	curriculum := main.Find(sel.Curriculum).First()
	if curriculum.Length() == 0 {
		fault(FieldCurriculum, partial("curriculum block not found"))
		return program, nil
	}
	terms := curriculum.Find(sel.Term)
	if terms.Length() == 0 {
		fault(FieldCurriculum, partial("no terms in curriculum"))
		return program, nil
	}

	terms.Each(func(i int, term *goquery.Selection) {
		label := strconv.Itoa(i + 1)
		list := term.Find("ul").First()
		if list.Length() == 0 {
			fault(FieldTerm, partial("term %s has no item list", label))
			return
		}
		list.Find("li").Each(func(_ int, li *goquery.Selection) {
			item, err := e.parseItem(li, label, mentions, base)
			if err != nil {
				fault(FieldItem, err)
				if !errors.Is(err, errNoItemCredits) {
					return
				}
			}
			program.Items = append(program.Items, item)
		})
	})

	program.Items = collapseShared(program.Items, len(mentions))
	metrics.ObserveItems(len(program.Items))
	return program, nil
}

// creditLoad reads the leading token of the info-block value labelled CreditLabel.
func (e *Extractor) creditLoad(main *goquery.Selection) (string, error) {
	block := main.Find(e.cfg.Selectors.InfoBlock).First()
	if block.Length() == 0 {
		return "", partial("info block not found")
	}
	labels := block.Find("dt")
	values := block.Find("dd")
	idx := -1
	labels.EachWithBreak(func(i int, dt *goquery.Selection) bool {
		if normalizeText(dt.Text()) == normalizeText(e.cfg.CreditLabel) {
			idx = i
			return false
		}
		return true
	})
	if idx < 0 {
		return "", partial("label %q not found", e.cfg.CreditLabel)
	}
	if idx >= values.Length() {
		return "", partial("label %q has no value", e.cfg.CreditLabel)
	}
	fields := strings.Fields(normalizeText(values.Eq(idx).Text()))
	if len(fields) == 0 {
		return "", partial("label %q has an empty value", e.cfg.CreditLabel)
	}
	return fields[0], nil
}

// mentions maps each specialization marker to its display name. A page
// without a mention selector has no mentions.
func (e *Extractor) mentions(main *goquery.Selection) (map[string]string, error) {
	out := map[string]string{}
	block := main.Find(e.cfg.Selectors.MentionBlock).First()
	if block.Length() == 0 {
		return out, nil
	}
	var errs []error
	block.Find("ul").First().Find("li").Each(func(_ int, li *goquery.Selection) {
		marker := strings.TrimSpace(li.AttrOr("target", ""))
		display := normalizeText(li.Text())
		if e.mentionPrefix != nil {
			display = strings.TrimSpace(e.mentionPrefix.ReplaceAllString(display, ""))
		}
		if marker == "" || display == "" {
			errs = append(errs, partial("mention entry %q has no marker or name", display))
			return
		}
		out[marker] = display
	})
	return out, errors.Join(errs...)
}

// parseItem reads one curriculum entry. The last class is the category; items
// carrying more than two classes and no NoMentionClass belong to the mention
// named by their first class found in mentions.
func (e *Extractor) parseItem(li *goquery.Selection, term string, mentions map[string]string, base *url.URL) (crawler.ItemRecord, error) {
	classes := strings.Fields(li.AttrOr("class", ""))
	if len(classes) == 0 {
		return crawler.ItemRecord{}, partial("term %s: item has no classes", term)
	}

	categoryClass := strings.ToLower(normalizeText(classes[len(classes)-1]))
	category, ok := e.categories[categoryClass]
	if !ok {
		return crawler.ItemRecord{}, partial("term %s: unknown category %q", term, categoryClass)
	}

	mention := ""
	if len(classes) > 2 && !slices.Contains(classes, e.cfg.NoMentionClass) {
		for _, class := range classes[:len(classes)-1] {
			if display, found := mentions[class]; found {
				mention = display
				break
			}
		}
		if mention == "" {
			return crawler.ItemRecord{}, partial("term %s: no known mention among classes %v", term, classes)
		}
	}

	credits := normalizeText(li.Find("span").First().Text())

	item := crawler.ItemRecord{
		Term:       term,
		CreditLoad: credits,
		Category:   category,
		MentionTag: mention,
	}

	link := li.Find("a[href]").First()
	if link.Length() > 0 {
		href, err := crawler.ResolveURL(base, link.AttrOr("href", ""))
		if err != nil {
			return crawler.ItemRecord{}, partial("term %s: %v", term, err)
		}
		item.SourceURL = href
		item.Name = normalizeText(link.Text())
	}
	if item.Name == "" {
		item.Name = firstText(li)
	}
	if item.Name == "" {
		return crawler.ItemRecord{}, partial("term %s: item has no name", term)
	}
	if credits == "" {
		return item, fmt.Errorf("%w: term %s: %s: %w", crawler.ErrPartialExtraction, term, item.Name, errNoItemCredits)
	}
	return item, nil
}

// firstText returns the first non-blank text node directly under s.
func firstText(s *goquery.Selection) string {
	for _, node := range s.Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.TextNode {
				continue
			}
			if text := normalizeText(child.Data); text != "" {
				return text
			}
		}
	}
	return ""
}

// errNoItemCredits marks an item kept without its credit load.
var errNoItemCredits = errors.New("item has no credit load")

func partial(format string, args ...any) error {
	return fmt.Errorf("%w: %s", crawler.ErrPartialExtraction, fmt.Sprintf(format, args...))
}
