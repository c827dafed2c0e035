package models

import "time"

// ContractReference - закешированные справочные данные контракта
//
// Ключ - ConID. Справочные данные не зависят от аккаунта, поэтому кеш
// общий на процесс и восстанавливается из БД между перезапусками.
// Заполняется один раз за время жизни процесса на каждый ConID.
type ContractReference struct {
	ConID     int64     `json:"con_id"`
	Symbol    string    `json:"symbol"`
	Industry  string    `json:"industry"`
	Category  string    `json:"category"`
	Country   string    `json:"country"`
	FetchedAt time.Time `json:"fetched_at"`
}
