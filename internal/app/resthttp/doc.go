// Package resthttp реализует публичный API диска поверх chi.
//
//   - POST /api/storages/{storageID}/uploads — открывает сессию загрузки, отвечает session_id, chunk_size, total_chunks.
//   - PUT /api/uploads/{id}/chunks/{index} — принимает часть; X-Checksum-Sha256 опционален.
//   - GET /api/uploads/{id} — полученные части, для возобновления.
//   - POST /api/uploads/{id}/complete — склеивает части в целевой файл.
//   - DELETE /api/uploads/{id} — отменяет сессию.
//   - PUT /api/storages/{storageID}/files?path=&name= — файл целиком одним запросом.
//   - POST /api/storages/{storageID}/remote, GET /api/remote, DELETE /api/remote/{id}, POST /api/remote/clear — удалённые скачивания.
//   - POST /api/storages/{storageID}/archive/{extract,compress} — архивы.
//   - GET /health, POST /admin/gc.
//
// Всё, кроме /health, требует Bearer-токен, если задан jwt_secret.
package resthttp
