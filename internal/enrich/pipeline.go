package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"portsync/internal/gateway"
	"portsync/internal/models"
	"portsync/internal/refdata"
	"portsync/pkg/ratelimit"
	"portsync/pkg/utils"
)

// ============================================================
// EnrichmentPipeline: справочные данные и изменение за день
// ============================================================

// Gateway - подмножество шлюзового фасада, нужное пайплайну
type Gateway interface {
	ContractDetails(ctx context.Context, conID int64) (*gateway.WireContractDetails, error)
	HistoricalBars(ctx context.Context, contract *gateway.WireContract, duration, barSize, whatToShow string, useRTH bool) ([]gateway.WireBar, error)
	TickSnapshot(ctx context.Context, contract *gateway.WireContract) (*gateway.TickSnapshotResult, error)
}

// Provider - батчевый провайдер котировок и профилей
type Provider interface {
	Quotes(ctx context.Context, symbols []string) (map[string]refdata.Quote, error)
	Profiles(ctx context.Context, symbols []string) (map[string]refdata.Profile, error)
}

// Параметры запросов исторических баров
const (
	equityDuration = "2 D"
	cryptoDuration = "5 D"
	barSizeDaily   = "1 day"

	equityWhatToShow = "TRADES"
	// Крипта торгуется 24/7, агрегация по midpoint устойчивее к
	// тонким стаканам ночных часов
	cryptoWhatToShow = "MIDPOINT"
)

// Pipeline обогащает позиции портфеля
//
// Позиции обрабатываются строго последовательно: справочный канал
// шлюза лимитирован, параллелизм здесь только приблизил бы cooldown.
// Ошибка обогащения одной позиции не прерывает батч.
type Pipeline struct {
	gw       Gateway
	provider Provider
	cache    *Cache
	log      *utils.Logger

	// Облигации, у которых тиковый путь не дал цену: пропускаются
	// до конца процесса, сбрасывается только ручным refresh
	blacklistMu sync.Mutex
	blacklist   map[string]bool
}

// NewPipeline создаёт пайплайн обогащения
//
// provider == nil допустим: акции обогащаются только через шлюз.
func NewPipeline(gw Gateway, provider Provider, cache *Cache, log *utils.Logger) *Pipeline {
	return &Pipeline{
		gw:        gw,
		provider:  provider,
		cache:     cache,
		log:       log.WithComponent("enrich"),
		blacklist: make(map[string]bool),
	}
}

// ResetBlacklist очищает чёрный список облигаций (ручной refresh)
func (p *Pipeline) ResetBlacklist() {
	p.blacklistMu.Lock()
	p.blacklist = make(map[string]bool)
	p.blacklistMu.Unlock()
	BondBlacklistSize.Set(0)
}

// Enrich обогащает батч позиций
//
// Всегда возвращает столько же позиций, сколько получил: позиция с
// неудавшимся обогащением уходит дальше с тем, что удалось получить.
func (p *Pipeline) Enrich(ctx context.Context, positions []models.Position) []models.EnrichedPosition {
	quotes, profiles := p.fetchProviderData(ctx, positions)

	out := make([]models.EnrichedPosition, 0, len(positions))
	for i := range positions {
		out = append(out, p.enrichOne(ctx, &positions[i], quotes, profiles))
	}
	return out
}

// fetchProviderData батчем забирает у провайдера данные по акциям/ETF
//
// Провайдер - основной источник для акций: один HTTP вызов вместо
// серии лимитированных запросов к шлюзу.
func (p *Pipeline) fetchProviderData(
	ctx context.Context,
	positions []models.Position,
) (map[string]refdata.Quote, map[string]refdata.Profile) {
	if p.provider == nil {
		return nil, nil
	}

	var symbols []string
	seen := make(map[string]bool)
	for i := range positions {
		pos := &positions[i]
		if pos.SecType != models.SecTypeStock && pos.SecType != models.SecTypeETF {
			continue
		}
		if pos.Symbol == "" || seen[pos.Symbol] {
			continue
		}
		seen[pos.Symbol] = true
		symbols = append(symbols, pos.Symbol)
	}

	if len(symbols) == 0 {
		return nil, nil
	}

	quotes, err := p.provider.Quotes(ctx, symbols)
	if err != nil {
		p.log.Warn("provider quotes failed, falling back to gateway", utils.Err(err))
		quotes = nil
	}

	profiles, err := p.provider.Profiles(ctx, symbols)
	if err != nil {
		p.log.Warn("provider profiles failed", utils.Err(err))
		profiles = nil
	}

	return quotes, profiles
}

// enrichOne обогащает одну позицию, поглощая все её ошибки
func (p *Pipeline) enrichOne(
	ctx context.Context,
	pos *models.Position,
	quotes map[string]refdata.Quote,
	profiles map[string]refdata.Profile,
) models.EnrichedPosition {
	ep := models.EnrichedPosition{
		Position:   *pos,
		EnrichedAt: time.Now(),
	}

	// Без contract id обогащение невозможно, позиция сохраняется как есть
	if pos.ConID <= 0 {
		PositionsEnriched.WithLabelValues(pos.SecType, "skipped").Inc()
		return ep
	}

	p.resolveReference(ctx, pos, profiles, &ep)
	p.resolvePrevClose(ctx, pos, quotes, &ep)

	ep.Country = p.resolveCountry(pos, profiles, &ep)

	// ep.LastPrice мог быть дозаполнен тиковым снимком облигации
	if ep.PrevClose != nil {
		change, percent := dayChange(pos.SecType, ep.LastPrice, *ep.PrevClose, pos.Quantity)
		ep.DayChange = change
		ep.DayChangePercent = percent
	}

	outcome := "partial"
	if ep.PrevClose != nil && ep.Industry != "" {
		outcome = "full"
	} else if ep.PrevClose == nil && ep.Industry == "" {
		outcome = "none"
	}
	PositionsEnriched.WithLabelValues(pos.SecType, outcome).Inc()

	return ep
}

// resolveReference заполняет industry/category из кэша, профиля
// провайдера или справочного запроса к шлюзу
func (p *Pipeline) resolveReference(
	ctx context.Context,
	pos *models.Position,
	profiles map[string]refdata.Profile,
	ep *models.EnrichedPosition,
) {
	if ref, ok := p.cache.Get(ctx, pos.ConID); ok {
		ep.Industry = ref.Industry
		ep.Category = ref.Category
		return
	}

	// Профиль провайдера закрывает акции без запроса к шлюзу
	if profile, ok := profiles[pos.Symbol]; ok && profile.Industry != "" {
		ep.Industry = profile.Industry
		ep.Category = profile.Sector
		p.cache.Put(ctx, &models.ContractReference{
			ConID:    pos.ConID,
			Symbol:   pos.Symbol,
			Industry: profile.Industry,
			Category: profile.Sector,
			Country:  profile.Country,
		})
		return
	}

	details, err := p.gw.ContractDetails(ctx, pos.ConID)
	if err != nil {
		p.log.Warn("contract details lookup failed",
			utils.Symbol(pos.Symbol), utils.ConID(pos.ConID), utils.Err(err))
		return
	}
	if details == nil {
		return
	}

	ep.Industry = details.Industry
	ep.Category = details.Category
	p.cache.Put(ctx, &models.ContractReference{
		ConID:    pos.ConID,
		Symbol:   pos.Symbol,
		Industry: details.Industry,
		Category: details.Category,
	})
}

// resolvePrevClose находит previous close стратегией по типу инструмента
func (p *Pipeline) resolvePrevClose(
	ctx context.Context,
	pos *models.Position,
	quotes map[string]refdata.Quote,
	ep *models.EnrichedPosition,
) {
	switch pos.SecType {
	case models.SecTypeStock, models.SecTypeETF:
		// Основной источник - провайдер
		if q, ok := quotes[pos.Symbol]; ok && q.PrevClose > 0 {
			prev := q.PrevClose
			ep.PrevClose = &prev
			return
		}
		p.prevCloseFromBars(ctx, pos, equityDuration, equityWhatToShow, true, ep)

	case models.SecTypeCrypto:
		p.prevCloseFromBars(ctx, pos, cryptoDuration, cryptoWhatToShow, false, ep)

	case models.SecTypeBond:
		p.prevCloseFromTicks(ctx, pos, ep)
	}
}

// prevCloseFromBars берёт close самого старого бара короткой серии
func (p *Pipeline) prevCloseFromBars(
	ctx context.Context,
	pos *models.Position,
	duration, whatToShow string,
	useRTH bool,
	ep *models.EnrichedPosition,
) {
	contract := &gateway.WireContract{
		ConID:    pos.ConID,
		Symbol:   pos.Symbol,
		SecType:  pos.SecType,
		Currency: pos.Currency,
		Exchange: pos.Exchange,
	}

	bars, err := p.gw.HistoricalBars(ctx, contract, duration, barSizeDaily, whatToShow, useRTH)
	if err != nil {
		p.log.Warn("historical bars failed",
			utils.Symbol(pos.Symbol), utils.SecType(pos.SecType), utils.Err(err))
		return
	}
	if len(bars) == 0 {
		return
	}

	oldest := bars[0].Close
	if oldest > 0 {
		ep.PrevClose = &oldest
	}
}

// prevCloseFromTicks снимает котировку облигации короткой тиковой подпиской
//
// Облигации не отдают исторические бары надёжно. Символ, на котором
// тиковый путь провалился, запоминается до конца процесса: повторные
// таймауты на каждом цикле дороже пропущенного поля.
func (p *Pipeline) prevCloseFromTicks(ctx context.Context, pos *models.Position, ep *models.EnrichedPosition) {
	p.blacklistMu.Lock()
	banned := p.blacklist[pos.Symbol]
	p.blacklistMu.Unlock()

	if banned {
		PositionsEnriched.WithLabelValues(pos.SecType, "blacklisted").Inc()
		return
	}

	contract := &gateway.WireContract{
		ConID:    pos.ConID,
		Symbol:   pos.Symbol,
		SecType:  pos.SecType,
		Currency: pos.Currency,
		Exchange: pos.Exchange,
	}

	snap, err := p.gw.TickSnapshot(ctx, contract)
	if err != nil || snap == nil || !snap.HasPrice() {
		// Отказ лимитера и отмена контекста - не провал символа:
		// запрос не дошёл до шлюза, следующий цикл повторит его
		var rateLimited *ratelimit.RateLimitError
		if errors.As(err, &rateLimited) || ctx.Err() != nil {
			p.log.Warn("bond tick snapshot skipped this cycle",
				utils.Symbol(pos.Symbol), utils.Err(err))
			return
		}

		p.blacklistMu.Lock()
		p.blacklist[pos.Symbol] = true
		size := len(p.blacklist)
		p.blacklistMu.Unlock()
		BondBlacklistSize.Set(float64(size))

		p.log.Warn("bond tick snapshot failed, symbol blacklisted",
			utils.Symbol(pos.Symbol), utils.Err(err))
		return
	}

	prev := snap.PrevClose
	ep.PrevClose = &prev

	// Поток позиций мог не принести last по неликвидной облигации
	if pos.LastPrice <= 0 {
		if last := snap.EffectiveLast(); last > 0 {
			ep.LastPrice = last
		}
	}
}

// resolveCountry определяет страну: справочник -> профиль -> таблица бирж
func (p *Pipeline) resolveCountry(
	pos *models.Position,
	profiles map[string]refdata.Profile,
	ep *models.EnrichedPosition,
) string {
	// Правило трежерис сильнее любых источников
	if pos.SecType == models.SecTypeBond && isTreasury(pos.Symbol) {
		return "United States"
	}

	if ref, ok := p.cache.Get(context.Background(), pos.ConID); ok && ref.Country != "" {
		return ref.Country
	}
	if profile, ok := profiles[pos.Symbol]; ok && profile.Country != "" {
		return profile.Country
	}
	return Country(pos)
}

// dayChange вычисляет изменение за день по типу инструмента
//
// nil/nil когда previous close либо last отсутствуют, неположительны
// или совпадают. Облигации котируются в процентах от номинала: множитель
// 10 переводит изменение в валютные единицы.
func dayChange(secType string, last, prevClose, quantity float64) (*float64, *float64) {
	if last <= 0 || prevClose <= 0 || last == prevClose {
		return nil, nil
	}

	multiplier := 1.0
	if secType == models.SecTypeBond {
		multiplier = 10.0
	}

	change := (last - prevClose) * quantity * multiplier
	percent := (last - prevClose) / prevClose * 100

	return &change, &percent
}
