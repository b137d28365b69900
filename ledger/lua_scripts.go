package ledger

import "github.com/redis/go-redis/v9"

// TenderScript 用於在Redis上執行出價的快速路徑
//  KEYS[1] - 刊登的最高出價hash (欄位: amount, bidder)
//  KEYS[2] - 出價事件的stream
//  ARGV[1] - 出價金額
//  ARGV[2] - 出價者的ID
//  ARGV[3] - 序列化後的出價事件(msgpack+base64)
//  ARGV[4] - hash的過期秒數
//
// 返回值:
//  -1 - 刊登的最高出價hash不存在(需要從資料庫回填後重試)
//   0 - 出價者已經是最高出價者且金額未超過目前最高價(業務規則阻擋)
//   1 - 出價成功並成為新的最高出價
//   2 - 出價成功但未超過目前最高價(進入排名但不改變最高出價者)
//
// 流程:
//  - 1. 檢查最高出價hash是否存在，不存在返回-1
//  - 2. 如果出價者就是目前的最高出價者，且金額<=目前最高價，返回0
//  - 3. 金額>目前最高價時更新hash並刷新過期時間
//  - 4. 將出價事件寫入stream
//  - 5. 返回1(新高)或2(未過高)
var TenderScript = redis.NewScript(`
-- 檢查最高出價hash是否存在
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -1
end

local current_amount = tonumber(redis.call('HGET', KEYS[1], 'amount')) or 0
local current_bidder = redis.call('HGET', KEYS[1], 'bidder')
local new_amount = tonumber(ARGV[1])

-- 最高出價者不能用小於等於目前最高價的金額重複出價
if current_bidder == ARGV[2] and new_amount <= current_amount then
    return 0
end

local result = 2
-- 金額相同時先出價者優先，所以只有嚴格較高才會更新最高出價
if new_amount > current_amount then
    redis.call('HSET', KEYS[1], 'amount', ARGV[1], 'bidder', ARGV[2])
    result = 1
end
redis.call('EXPIRE', KEYS[1], ARGV[4])

-- 將出價事件寫入stream
redis.call('XADD', KEYS[2], '*', 'data', ARGV[3])

return result
`)
