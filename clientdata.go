package clientdata

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/icza/clientdata/archive"
	"github.com/icza/clientdata/archive/cascarchive"
	"github.com/icza/clientdata/archive/dirarchive"
	"github.com/icza/clientdata/archive/mpqarchive"
	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/listfile"
	"github.com/icza/clientdata/locale"
)

// OpenMode distinguishes a locally installed client from a CDN-cached
// (remote) one. Only CASC storage supports remote mode; MPQ + remote is
// an unsupported configuration (ArchiveOpenError).
type OpenMode int

const (
	// OpenModeLocal reads archives directly from the client's own install
	// directory.
	OpenModeLocal OpenMode = iota
	// OpenModeRemote additionally consults a CDN cache directory.
	OpenModeRemote
)

// ClientData is the top-level façade: it discovers and orders archive
// backends according to client generation, serializes reads behind one
// mutex, and resolves disk-mirror paths.
type ClientData struct {
	generation  locale.Generation
	storage     locale.Storage
	openMode    OpenMode
	clientPath  string
	projectPath string
	resolved    locale.Locale

	listfile *listfile.Listfile

	// backends is the overlay stack: index 0 is the base (oldest/lowest
	// priority), the last entry is the highest priority. Reads walk it
	// newest-first.
	backends []archive.Backend

	mu    sync.Mutex
	group singleflight.Group
}

// New constructs a ClientData for a client of generation gen, installed at
// path, with data for loc. projectPath is the project/mirror directory;
// cdnCachePath is optional and, if non-empty, puts CASC-era clients in
// remote mode (see OpenMode). Construction failures tear down any
// backends already opened before returning.
func New(path string, gen locale.Generation, loc locale.Locale, projectPath, cdnCachePath string) (*ClientData, error) {
	cd := &ClientData{
		generation:  gen,
		storage:     gen.Storage(),
		clientPath:  path,
		projectPath: projectPath,
		resolved:    loc,
	}
	if cdnCachePath != "" {
		cd.openMode = OpenModeRemote
	}

	if cd.storage == locale.StorageMPQ && cd.openMode == OpenModeRemote {
		return nil, &ArchiveOpenError{Path: path, Message: "MPQ storage does not support remote/CDN mode"}
	}

	var err error
	switch {
	case cd.storage == locale.StorageCASC:
		err = cd.initCASC(cdnCachePath)
	case gen.IsCataclysmOrNewer():
		err = cd.initMPQPostCata()
	default:
		err = cd.initMPQPreCata()
	}
	if err != nil {
		cd.Close()
		return nil, err
	}
	return cd, nil
}

// Close tears down every backend in reverse (newest-first) order.
func (cd *ClientData) Close() error {
	var first error
	for i := len(cd.backends) - 1; i >= 0; i-- {
		if err := cd.backends[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	cd.backends = nil
	return first
}

// Locale returns the concrete, resolved locale used by this ClientData
// (never AUTO, even if AUTO was requested at construction).
func (cd *ClientData) Locale() locale.Locale { return cd.resolved }

// Listfile returns the shared Listfile backing this ClientData's FileKey
// deduction.
func (cd *ClientData) Listfile() *listfile.Listfile { return cd.listfile }

// ---- locale validation & MPQ auto-detection -----------------------------

func validateLocale(gen locale.Generation, loc locale.Locale, clientPath string) (locale.Locale, error) {
	storage := gen.Storage()
	if storage == locale.StorageCASC {
		if loc == locale.AUTO {
			return locale.AUTO, &IncorrectLocaleModeError{Detail: "CASC-era clients require an explicit locale; AUTO is not supported"}
		}
		return loc, nil
	}

	if loc != locale.AUTO {
		if !realmlistExists(clientPath, loc) {
			return locale.AUTO, &LocaleNotFoundError{Path: clientPath, Detail: "realmlist.wtf not found for " + loc.String()}
		}
		return loc, nil
	}

	if detected, ok := detectLocaleFromRealmlist(clientPath); ok {
		return detected, nil
	}
	if detected, ok := detectLocaleFromConfigWTF(clientPath); ok {
		return detected, nil
	}
	return locale.AUTO, &LocaleNotFoundError{Path: clientPath, Detail: "AUTO locale requested but no single locale could be resolved"}
}

func realmlistExists(clientPath string, loc locale.Locale) bool {
	_, err := os.Stat(filepath.Join(clientPath, "Data", loc.String(), "realmlist.wtf"))
	return err == nil
}

// detectLocaleFromRealmlist implements the primary MPQ locale
// auto-detection source (spec.md §6): exactly one locale directory under
// Data/ must contain a realmlist.wtf.
func detectLocaleFromRealmlist(clientPath string) (locale.Locale, bool) {
	var found []locale.Locale
	for _, l := range locale.All() {
		if realmlistExists(clientPath, l) {
			found = append(found, l)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return locale.AUTO, false
}

// detectLocaleFromConfigWTF implements the alternative MPQ locale
// auto-detection source (spec.md §6): WTF/Config.wtf is parsed
// whitespace-separated; each token has its first character dropped and
// the next four characters taken as a candidate locale code.
func detectLocaleFromConfigWTF(clientPath string) (locale.Locale, bool) {
	data, err := os.ReadFile(filepath.Join(clientPath, "WTF", "Config.wtf"))
	if err != nil {
		return locale.AUTO, false
	}
	var found []locale.Locale
	for _, tok := range strings.Fields(string(data)) {
		if len(tok) < 5 {
			continue
		}
		cand := tok[1:5]
		if l, ok := locale.ParseLocale(cand); ok {
			found = append(found, l)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return locale.AUTO, false
}

// ---- CASC construction ---------------------------------------------------

func (cd *ClientData) initCASC(cdnCachePath string) error {
	resolved, err := validateLocale(cd.generation, cd.resolved, cd.clientPath)
	if err != nil {
		return err
	}
	cd.resolved = resolved

	csvPath := filepath.Join(cd.projectPath, "listfile.csv")
	lf, err := listfile.NewFromFile(csvPath)
	if err != nil {
		return &ListfileNotFoundError{Path: csvPath, Cause: err}
	}
	cd.listfile = lf

	arc, err := cascarchive.NewLocal(cd.clientPath, cdnCachePath, cd.listfile)
	if err != nil {
		return &ArchiveOpenError{Path: cd.clientPath, Message: "casc", Cause: err}
	}
	cd.backends = append(cd.backends, arc)
	return nil
}

// ---- MPQ template expansion ----------------------------------------------

// preCataCommonTemplates, preCataLocaleTemplates, and preCataDevTemplate
// together form the 21+7+1 fixed ordered template list the pre-Cataclysm
// stack builder iterates (spec.md §4.4). They are immutable static data,
// not runtime-built.
var preCataCommonTemplates = [21]string{
	"Data/common.MPQ",
	"Data/common-2.MPQ",
	"Data/expansion.MPQ",
	"Data/lichking.MPQ",
	"Data/patch.MPQ",
	"Data/patch-{number}.MPQ",
	"Data/patch-{character}.MPQ",
	"Data/expansion-patch.MPQ",
	"Data/expansion-patch-{number}.MPQ",
	"Data/expansion-patch-{character}.MPQ",
	"Data/lichking-patch.MPQ",
	"Data/lichking-patch-{number}.MPQ",
	"Data/lichking-patch-{character}.MPQ",
	"Data/base.MPQ",
	"Data/base-2.MPQ",
	"Data/interface.MPQ",
	"Data/misc.MPQ",
	"Data/sound.MPQ",
	"Data/terrain.MPQ",
	"Data/texture.MPQ",
	"Data/world.MPQ",
}

var preCataLocaleTemplates = [7]string{
	"Data/{locale}/locale-{locale}.MPQ",
	"Data/{locale}/speech-{locale}.MPQ",
	"Data/{locale}/expansion-locale-{locale}.MPQ",
	"Data/{locale}/lichking-locale-{locale}.MPQ",
	"Data/{locale}/patch-{locale}.MPQ",
	"Data/{locale}/patch-{locale}-{number}.MPQ",
	"Data/{locale}/patch-{locale}-{character}.MPQ",
}

const preCataDevTemplate = "Data/development.MPQ"

// postCataTemplates is the post-Cataclysm stack builder's 11-entry fixed
// ordered template list (spec.md §4.4).
var postCataTemplates = [11]string{
	"Data/wow-update-base-{number}.MPQ",
	"Data/wow-update-{number}.MPQ",
	"Data/expansion1.MPQ",
	"Data/wow-update-expansion1-{number}.MPQ",
	"Data/{locale}/locale-{locale}.MPQ",
	"Data/{locale}/wow-update-{locale}-{number}.MPQ",
	"Data/{locale}/expansion1-locale-{locale}.MPQ",
	"Data/{locale}/wow-update-expansion1-{locale}-{number}.MPQ",
	"Data/{locale}/speech-{locale}.MPQ",
	"Data/{locale}/wow-update-speech-{locale}-{number}.MPQ",
	"Data/patch-{character}.MPQ",
}

// expandTemplate substitutes {locale} and then expands exactly one of
// {number} (digits '2'..'9', eight candidates) or {character} (letters
// 'a'..'z', 26 candidates); a template with neither yields itself as the
// single candidate.
func expandTemplate(tmpl string, loc locale.Locale) []string {
	tmpl = strings.ReplaceAll(tmpl, "{locale}", loc.String())

	switch {
	case strings.Contains(tmpl, "{number}"):
		out := make([]string, 0, 8)
		for d := byte('2'); d <= '9'; d++ {
			out = append(out, strings.ReplaceAll(tmpl, "{number}", string(d)))
		}
		return out
	case strings.Contains(tmpl, "{character}"):
		out := make([]string, 0, 26)
		for c := byte('a'); c <= 'z'; c++ {
			out = append(out, strings.ReplaceAll(tmpl, "{character}", string(c)))
		}
		return out
	default:
		return []string{tmpl}
	}
}

// openCandidate stats candidate (relative to the client path) and, if it
// exists and isn't the project's mirror directory, opens it as either a
// directory or an MPQ backend.
func (cd *ClientData) openCandidate(candidate string) (archive.Backend, bool) {
	full := filepath.Join(cd.clientPath, filepath.FromSlash(candidate))
	info, err := os.Stat(full)
	if err != nil {
		return nil, false
	}
	if dirarchive.SameDir(full, cd.projectPath) {
		return nil, false
	}
	if info.IsDir() {
		return dirarchive.New(full, nil), true
	}
	arc, err := mpqarchive.Open(full, nil)
	if err != nil {
		return nil, false
	}
	return arc, true
}

// ---- MPQ pre-Cataclysm construction ---------------------------------------

func (cd *ClientData) initMPQPreCata() error {
	resolved, err := validateLocale(cd.generation, cd.resolved, cd.clientPath)
	if err != nil {
		return err
	}
	cd.resolved = resolved

	templates := make([]string, 0, len(preCataCommonTemplates)+len(preCataLocaleTemplates)+1)
	templates = append(templates, preCataCommonTemplates[:]...)
	templates = append(templates, preCataLocaleTemplates[:]...)
	templates = append(templates, preCataDevTemplate)

	for _, tmpl := range templates {
		for _, candidate := range expandTemplate(tmpl, cd.resolved) {
			if be, ok := cd.openCandidate(candidate); ok {
				cd.backends = append(cd.backends, be)
			}
		}
	}

	return cd.bootstrapEmbeddedListfile()
}

// ---- MPQ post-Cataclysm construction ---------------------------------------

func (cd *ClientData) initMPQPostCata() error {
	resolved, err := validateLocale(cd.generation, cd.resolved, cd.clientPath)
	if err != nil {
		return err
	}
	cd.resolved = resolved

	var base archive.Backend
	for _, tmpl := range postCataTemplates {
		prefix := "base"
		if strings.Contains(tmpl, "{locale}") {
			prefix = cd.resolved.String()
		}

		for _, candidate := range expandTemplate(tmpl, cd.resolved) {
			be, ok := cd.openCandidate(candidate)
			if !ok {
				continue
			}
			if base == nil {
				base = be
				cd.backends = append(cd.backends, base)
				continue
			}
			if err := base.PatchApply(be, prefix); err != nil {
				be.Close()
			}
		}
	}

	return cd.bootstrapEmbeddedListfile()
}

// bootstrapEmbeddedListfile builds the shared Listfile for an MPQ-era
// ClientData by reading the "(listfile)" member out of the first MPQ
// backend in the stack that carries one, then hands that Listfile to every
// archive.ListfileAware backend. If no backend carries an embedded
// listfile, an empty one is used: ID-based FileKey deduction simply fails
// rather than the construction aborting.
func (cd *ClientData) bootstrapEmbeddedListfile() error {
	var raw []byte
	for _, be := range cd.backends {
		if arc, ok := be.(*mpqarchive.Archive); ok {
			if data, found := arc.ReadInternalFile("(listfile)"); found {
				raw = data
				break
			}
		}
	}

	lf, err := listfile.NewFromBuffer(raw)
	if err != nil {
		return err
	}
	cd.listfile = lf

	for _, be := range cd.backends {
		if aware, ok := be.(archive.ListfileAware); ok {
			aware.SetListfile(lf)
		}
	}
	return nil
}

// ---- read / exists / disk path --------------------------------------------

// Read resolves key against the archive stack, newest-first, and returns
// the bytes of the first backend that can serve it. It never returns an
// error: ok is false if no backend could serve the key, and buf's
// contents are then unspecified (callers must not rely on them).
func (cd *ClientData) Read(key filekey.FileKey) (buf []byte, ok bool) {
	v, err, _ := cd.group.Do(key.String(), func() (interface{}, error) {
		b, ok := cd.readLocked(key)
		return readResult{buf: b, ok: ok}, nil
	})
	if err != nil {
		return nil, false
	}
	r := v.(readResult)
	return r.buf, r.ok
}

type readResult struct {
	buf []byte
	ok  bool
}

func (cd *ClientData) readLocked(key filekey.FileKey) ([]byte, bool) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	for i := len(cd.backends) - 1; i >= 0; i-- {
		h, ok := cd.backends[i].Open(key, cd.resolved)
		if !ok {
			continue
		}
		buf := make([]byte, h.Size())
		if !h.Read(buf) {
			h.Close()
			continue
		}
		h.Close()
		return buf, true
	}
	return nil, false
}

// Exists reports whether key resolves to a file, consulting the disk
// mirror first (it overrides archives) and only then walking the archive
// stack. This mirror-first/archive-walk asymmetry does not hold for Read,
// which never consults the mirror — that asymmetry is intentional and
// preserved exactly as specified (spec.md §9; see
// TestReadIgnoresMirrorExistsConsultsIt).
func (cd *ClientData) Exists(key filekey.FileKey) bool {
	if cd.ExistsOnDisk(key) {
		return true
	}

	cd.mu.Lock()
	defer cd.mu.Unlock()
	for i := len(cd.backends) - 1; i >= 0; i-- {
		if cd.backends[i].Exists(key, cd.resolved) {
			return true
		}
	}
	return false
}

// ExistsOnDisk reports whether key's path exists under the project's
// mirror directory. A key with no path component reports false
// unconditionally, even if the Listfile could resolve its FileDataID to
// a path: the mirror check never performs that deduction.
func (cd *ClientData) ExistsOnDisk(key filekey.FileKey) bool {
	path, ok := cd.resolveDiskPath(key)
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// DiskPath returns the project-mirror-relative path key would resolve to.
// If key has a path, it's "<projectPath>/<unix-normalized path>"; for an
// ID-only key, the Listfile is consulted and, failing that, the path
// falls back to "<projectPath>/unknown_files/<decimal ID>" (S6).
func (cd *ClientData) DiskPath(key filekey.FileKey) string {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.diskPathLocked(key)
}

// resolveDiskPath returns the mirror path for key, but only when key
// already carries a path component. An ID-only key is never resolved
// through the Listfile here: ExistsOnDisk must report false for it
// without consulting anything else, matching the original ClientData's
// existsOnDisk (it returns false before ever touching the listfile).
func (cd *ClientData) resolveDiskPath(key filekey.FileKey) (string, bool) {
	if !key.HasPath() {
		return "", false
	}
	return cd.DiskPath(key), true
}

func (cd *ClientData) diskPathLocked(key filekey.FileKey) string {
	if key.HasPath() {
		return filepath.Join(cd.projectPath, filepath.FromSlash(UnixForm(key.Path())))
	}
	if cd.listfile != nil {
		if p := cd.listfile.GetPath(key.FDID()); len(p) > 0 {
			return filepath.Join(cd.projectPath, filepath.FromSlash(UnixForm(string(p))))
		}
	}
	return filepath.Join(cd.projectPath, "unknown_files", filekey.FromFDID(key.FDID(), nil).String())
}

// ---- filename normalization variants --------------------------------------

// UnixForm converts backslashes to forward slashes only; it performs no
// case folding and no model-suffix unification.
func UnixForm(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

// InternalForm is filekey.Normalize: lowercase, unix-form, with
// .mdx/.mdl unified to .m2.
func InternalForm(path string) string {
	return filekey.Normalize(path)
}

// WoWForm converts to uppercase and forward-slashes to backslashes, the
// form expected by legacy client APIs.
func WoWForm(path string) string {
	return strings.ToUpper(strings.ReplaceAll(path, "/", "\\"))
}
