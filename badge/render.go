package badge

import (
	"image"

	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/roster"
)

// Info is the static device text shown on the version screens.
type Info struct {
	Version string
	Serial  string
	Matrix  string
	Web     string
}

// Renderer draws menu screens. It owns its font faces and is not safe for
// concurrent use.
type Renderer struct {
	fonts *display.Fonts
	info  Info
}

// NewRenderer returns a renderer for info.
func NewRenderer(info Info) (*Renderer, error) {
	fonts, err := display.NewFonts()
	if err != nil {
		return nil, err
	}
	return &Renderer{fonts: fonts, info: info}, nil
}

// Render clears p and draws m. sys may be nil on MenuInvalidSystem and
// MenuUpdating. It does not flush the panel.
func (r *Renderer) Render(p display.Panel, m CurrentMenu, sys roster.System) {
	p.Clear()
	if sys == nil && (m.Menu == MenuSystemName || m.Menu == MenuMember) {
		m.Menu = MenuInvalidSystem
	}
	switch m.Menu {
	case MenuSystemName:
		r.systemName(p, sys)
	case MenuVersion:
		r.version(p)
	case MenuMember:
		r.members(p, &m.Members, sys)
	case MenuUpdating:
		r.updating(p)
	default:
		r.invalidSystem(p)
	}
}

func (r *Renderer) systemName(p display.Panel, sys roster.System) {
	b := p.Bounds()
	center := b.Min.Add(image.Pt(b.Dx()/2, b.Dy()/2))
	r.fonts.Text(p, display.SizeMedium, center, display.AlignCenter, sys.Name())
}

func (r *Renderer) version(p display.Panel) {
	b := p.Bounds()
	r.fonts.Text(p, display.SizeMedium, image.Pt(b.Min.X+b.Dx()/2, b.Min.Y+20), display.AlignCenter, "Sysbadge")
	r.versionAndSerial(p, b.Min.Add(image.Pt(5, 60)))
	if r.info.Matrix != "" {
		r.fonts.Text(p, display.SizeNormal, b.Min.Add(image.Pt(5, 105)), display.AlignLeft, "matrix: "+r.info.Matrix)
	}
	if r.info.Web != "" {
		r.fonts.Text(p, display.SizeNormal, b.Min.Add(image.Pt(5, 120)), display.AlignLeft, "web: "+r.info.Web)
	}
}

func (r *Renderer) versionAndSerial(p display.Panel, start image.Point) {
	r.fonts.Text(p, display.SizeMedium, start, display.AlignLeft, "Version: "+r.info.Version)
	if r.info.Serial != "" {
		r.fonts.Text(p, display.SizeNormal, start.Add(image.Pt(0, 30)), display.AlignLeft, "Serial: "+r.info.Serial)
	}
}

func (r *Renderer) invalidSystem(p display.Panel) {
	b := p.Bounds()
	r.fonts.Text(p, display.SizeMedium, image.Pt(b.Min.X+b.Dx()/2, b.Min.Y+40), display.AlignCenter, "System Data Invalid")
	r.versionAndSerial(p, b.Min.Add(image.Pt(5, 75)))
}

func (r *Renderer) updating(p display.Panel) {
	b := p.Bounds()
	center := b.Min.Add(image.Pt(b.Dx()/2, b.Dy()/2))
	r.fonts.Text(p, display.SizeMedium, center, display.AlignCenter, "Updating...")
}

func (r *Renderer) members(p display.Panel, c *CurrentMembers, sys roster.System) {
	pkg.Assert(c.Len >= 1 && c.Len <= MaxCells, "member cell count out of range", "len", c.Len)
	for i, bounds := range CellBounds(p.Bounds(), int(c.Len)) {
		r.member(p, bounds, c.ModeFor(uint8(i)), sys, int(c.Cells[i].ID))
	}
}

// member draws one cell. A cell whose id no longer names a member, or whose
// record is damaged, shows only its outline.
func (r *Renderer) member(p display.Panel, bounds image.Rectangle, mode Mode, sys roster.System, id int) {
	display.StrokeRect(p, bounds, mode.StrokeWidth())
	m, err := sys.Member(id)
	if err != nil {
		pkg.LogDebug(pkg.ComponentBadge, "cell has no member", "id", id, "error", err)
		return
	}

	w, h := bounds.Dx(), bounds.Dy()
	var (
		namePt   image.Point
		nameSize display.Size
	)
	switch {
	case h > 40:
		namePt, nameSize = image.Pt(5, 25), display.SizeLarge
	case h > 20:
		namePt, nameSize = image.Pt(5, 20), display.SizeSmall
	default:
		namePt, nameSize = image.Pt(5, 20), display.SizeTiny
	}
	r.fonts.Text(p, nameSize, bounds.Min.Add(namePt), display.AlignLeft, m.Name)

	if m.Pronouns == "" {
		return
	}
	var (
		pt    image.Point
		size  display.Size
		align display.Align
	)
	switch {
	case h > 100:
		pt, size, align = image.Pt(5, h-20), display.SizeMedium, display.AlignLeft
	case h > 50:
		pt, size, align = image.Pt(5, h-15), display.SizeSmall, display.AlignLeft
	case h > 40:
		pt, size, align = image.Pt(w-5, 15), display.SizeSmall, display.AlignRight
	default:
		pt, size, align = image.Pt(w-5, 15), display.SizeTiny, display.AlignRight
	}
	r.fonts.Text(p, size, bounds.Min.Add(pt), align, "("+m.Pronouns+")")
}

// CellBounds partitions r top to bottom into n member cells: the whole area,
// two halves, three thirds, or two halves each split in two.
func CellBounds(r image.Rectangle, n int) []image.Rectangle {
	h := r.Dy()
	switch n {
	case 1:
		return []image.Rectangle{r}
	case 2:
		return []image.Rectangle{
			resizeHeight(r, h/2, anchorTop),
			resizeHeight(r, h/2, anchorBottom),
		}
	case 3:
		return []image.Rectangle{
			resizeHeight(r, h/3, anchorTop),
			resizeHeight(r, h/3, anchorCenter),
			resizeHeight(r, h/3, anchorBottom),
		}
	case 4:
		top, bottom := resizeHeight(r, h/2, anchorTop), resizeHeight(r, h/2, anchorBottom)
		return append(CellBounds(top, 2), CellBounds(bottom, 2)...)
	}
	return nil
}

type anchor int

const (
	anchorTop anchor = iota
	anchorCenter
	anchorBottom
)

func resizeHeight(r image.Rectangle, h int, a anchor) image.Rectangle {
	switch a {
	case anchorCenter:
		r.Min.Y += (r.Dy() - h) / 2
	case anchorBottom:
		r.Min.Y = r.Max.Y - h
	}
	r.Max.Y = r.Min.Y + h
	return r
}
