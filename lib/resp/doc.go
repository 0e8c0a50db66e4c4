/*
Package resp encodes command results as RESP2 or RESP3 replies, depending on the protocol
version of the client.

	| Value      | RESP2                         | RESP3                 |
	|------------|-------------------------------|-----------------------|
	| Nil        | $-1                           | _                     |
	| Number     | :n (integral) or bulk string  | :n or ,double         |
	| String     | bulk string                   | bulk string           |
	| Hash       | flat array field, value, ...  | map                   |
	| Set        | array                         | set                   |
	| SortedSet  | flat array member, score, ... | array of [member, score] |

Errors are written as -ERR <message> unless the message already starts with an upper case
error code such as WRONGTYPE.
*/
package resp
