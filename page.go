package ruststore

import "fmt"

// ============================================================================
// Cart Pages
// ============================================================================

// PageSize is the number of cart records shown per page.
const PageSize = 15

// PageItem is one rendered cart entry. IconID is set when the icon asset is
// already cached; otherwise it arrives later through the page's IconFunc
// once the download completes.
type PageItem struct {
	Record    *PurchaseRecord
	Title     string
	Amount    int
	IconURL   string
	IconID    string
	Blueprint bool
}

// CartPage is one page of a user's ungranted cart records.
type CartPage struct {
	Index int
	Prev  int
	Next  int
	Items []*PageItem
	Total int
}

// IconFunc receives late-arriving icon assets: the queue id of the cart
// entry and the stored asset id, or the empty string when the download
// failed.
type IconFunc func(queueID, assetID string)

// Page renders one page of the user's ungranted cart. Icons already in the
// download cache are resolved synchronously; the rest are requested from
// the download queue and delivered through onIcon as they land. onIcon may
// be nil.
func (e *Engine) Page(userID string, index int, onIcon IconFunc) *CartPage {
	records := e.carts.Ungranted(userID)
	count := len(records)

	first := index * PageSize
	if first > count {
		first = count
	}
	last := first + PageSize
	if last > count {
		last = count
	}

	page := &CartPage{
		Index: index,
		Next:  index,
		Total: count,
	}
	if index > 1 {
		page.Prev = index - 1
	}
	if first+PageSize < count {
		page.Next++
	}

	for _, rec := range records[first:last] {
		item := &PageItem{
			Record:    rec,
			Blueprint: rec.Kind == KindBlueprint,
			Amount:    1,
			IconURL:   rec.Icon,
		}

		if rec.Kind == KindGameItem || rec.Kind == KindBlueprint {
			if payload, err := rec.GameItem(); err == nil {
				item.Amount = payload.Quantity
				item.IconURL = fmt.Sprintf(e.cfg.IconBaseURL, payload.ItemName)
				if def, ok := e.catalog.Find(payload.ItemName); ok {
					item.Title = def.DisplayName
				} else {
					item.Title = payload.ItemName
				}
			}
		}

		if item.IconURL != "" {
			if id, ok := e.downloads.Cached(item.IconURL); ok {
				item.IconID = id
			} else {
				queueID := rec.QueueID
				e.downloads.Fetch(item.IconURL, func(id string) {
					if onIcon != nil {
						onIcon(queueID, id)
					}
				})
			}
		}

		page.Items = append(page.Items, item)
	}

	return page
}
