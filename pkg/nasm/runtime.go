package nasm

// ----------------------------------------------------------------------------
// Runtime support routines

// This section emits the fixed tail of the '_start' stream: the program exit
// trailer, the division-by-zero trap and the support routines every compiled
// program carries. The routines only ever use the 'write' (rax=1) and 'exit'
// (rax=60) syscalls on stdout.
//
// Calling contracts:
// - print_number:     rax = signed integer, writes its decimal form
// - print_string:     rax = NUL terminated string pointer, writes the bytes
// - print_not_string: rax = value, lists (addresses inside list_buffer) are
//                     printed as '[e1, e2, ...]', anything else as a number
// - str_concat:       rdi/rsi = strings, appends both into concat_buffer and
//                     returns the new string pointer in rax
// - list_concat:      rdi/rsi = size-prefixed lists, copies both into a fresh
//                     list_buffer region and returns the new base in rax
// - list_range:       rax = n, materializes [0 .. n-1] and returns its base

func (cg *CodeGenerator) emitRuntime() {
	cg.emitExit()
	cg.emitDivisionByZeroTrap()
	cg.emitPrintNumber()
	cg.emitListConcat()
	cg.emitStrConcat()
	cg.emitPrintString()
	cg.emitPrintNotString()
	cg.emitListRange()
}

func (cg *CodeGenerator) emitExit() {
	cg.emit("\n; Program exit")
	cg.emit("mov rax, 60      ; syscall: exit")
	cg.emit("xor rdi, rdi     ; exit code 0")
	cg.emit("syscall\n")
}

func (cg *CodeGenerator) emitDivisionByZeroTrap() {
	cg.emit("\n; Division by zero error handler")
	cg.emit(".division_by_zero_error:")
	cg.emit("    mov rax, 1          ; syscall: write")
	cg.emit("    mov rdi, 1          ; file descriptor: stdout")
	cg.emit("    mov rsi, div_zero_msg")
	cg.emit("    mov rdx, div_zero_len")
	cg.emit("    syscall")
	cg.emit("    mov rax, 60         ; syscall: exit")
	cg.emit("    mov rdi, 1          ; exit code 1 (error)")
	cg.emit("    syscall\n")
}

// Converts rax to decimal in the bss scratch buffer, right to left, then
// writes it out (with a leading '-' for negatives).
func (cg *CodeGenerator) emitPrintNumber() {
	cg.emit("; Function to print a number in RAX")
	cg.emit("print_number:")
	cg.emit("    push rbp")
	cg.emit("    mov rbp, rsp")
	cg.emit("    mov r12, rax          ; save original number in r12")

	cg.emit("    cmp r12, 0")
	cg.emit("    jge .print_positive")
	cg.emit("    push r12")
	cg.emit("    mov rax, 1")
	cg.emit("    mov rdi, 1")
	cg.emit("    mov rsi, minus_sign")
	cg.emit("    mov rdx, 1")
	cg.emit("    syscall")
	cg.emit("    pop r12")
	cg.emit("    neg r12")

	cg.emit(".print_positive:")
	cg.emit("    lea rdi, [buffer+31]  ; point rdi to end of buffer")
	cg.emit("    mov byte [rdi], 0     ; null-terminate the buffer")
	cg.emit("    cmp r12, 0")
	cg.emit("    jne .print_convert")
	cg.emit("    mov byte [rdi-1], '0'")
	cg.emit("    lea rdi, [rdi-1]")
	cg.emit("    jmp .print_output")

	cg.emit(".print_convert:")
	cg.emit("    mov rax, r12")
	cg.emit("    mov rbx, 10")
	cg.emit(".print_convert_loop:")
	cg.emit("    xor rdx, rdx")
	cg.emit("    div rbx             ; rax = quotient, rdx = remainder")
	cg.emit("    add rdx, '0'        ; convert digit to ASCII")
	cg.emit("    dec rdi             ; move pointer left")
	cg.emit("    mov [rdi], dl       ; store digit in buffer")
	cg.emit("    cmp rax, 0")
	cg.emit("    jne .print_convert_loop")

	cg.emit(".print_output:")
	cg.emit("    lea rsi, [rdi]      ; rsi points to start of the string")
	cg.emit("    mov rdx, buffer+31")
	cg.emit("    sub rdx, rdi        ; compute string length")
	cg.emit("    mov rax, 1          ; syscall: write")
	cg.emit("    mov rdi, 1          ; file descriptor: stdout")
	cg.emit("    syscall")
	cg.emit("    pop rbp")
	cg.emit("    ret\n")
}

// Copies both size-prefixed operand lists into a fresh region of the list
// arena: total size word first, then the elements of each list in order.
func (cg *CodeGenerator) emitListConcat() {
	cg.emit("\n; Function to concatenate two lists")
	cg.emit("list_concat:")
	cg.emit("    push rbp")
	cg.emit("    mov rbp, rsp")
	cg.emit("    push r12")
	cg.emit("    push r13")
	cg.emit("    push r14")
	cg.emit("    push rbx")
	cg.emit("    push r15")

	cg.emit("    mov r12, rdi        ; r12 = first list")
	cg.emit("    mov r13, rsi        ; r13 = second list")

	cg.emit("    mov r14, [r12]      ; r14 = size of the first list")
	cg.emit("    mov r15, [r13]      ; r15 = size of the second list")

	cg.emit("    mov rbx, [list_offset]")
	cg.emit("    mov rax, list_buffer")
	cg.emit("    add rax, rbx        ; rax = base of the result list")
	cg.emit("    push rax            ; saved for the return value")

	cg.emit("    mov rcx, [list_offset]")
	cg.emit("    mov rax, r14")
	cg.emit("    add rax, r15")
	cg.emit("    mov [list_buffer + rcx], rax  ; store the total size")
	cg.emit("    add rcx, 8")
	cg.emit("    mov [list_offset], rcx")

	cg.emit("    mov rsi, r12")
	cg.emit("    add rsi, 8          ; skip the first list's size word")
	cg.emit("    mov rbx, rcx        ; destination offset")
	cg.emit("    mov rcx, r14        ; elements left to copy")
	cg.emit("    cmp rcx, 0")
	cg.emit("    je .list_copy1_done")

	cg.emit(".list_copy1_loop:")
	cg.emit("    mov rdx, [rsi]")
	cg.emit("    mov [list_buffer + rbx], rdx")
	cg.emit("    add rsi, 8")
	cg.emit("    add rbx, 8")
	cg.emit("    dec rcx")
	cg.emit("    jnz .list_copy1_loop")
	cg.emit(".list_copy1_done:")

	cg.emit("    mov rsi, r13")
	cg.emit("    add rsi, 8          ; skip the second list's size word")
	cg.emit("    mov rcx, r15        ; elements left to copy")
	cg.emit("    cmp rcx, 0")
	cg.emit("    je .list_copy2_done")

	cg.emit(".list_copy2_loop:")
	cg.emit("    mov rdx, [rsi]")
	cg.emit("    mov [list_buffer + rbx], rdx")
	cg.emit("    add rsi, 8")
	cg.emit("    add rbx, 8")
	cg.emit("    dec rcx")
	cg.emit("    jnz .list_copy2_loop")
	cg.emit(".list_copy2_done:")

	cg.emit("    mov [list_offset], rbx")

	cg.emit("    pop rax             ; base of the result list")

	cg.emit("    pop r15")
	cg.emit("    pop rbx")
	cg.emit("    pop r14")
	cg.emit("    pop r13")
	cg.emit("    pop r12")
	cg.emit("    pop rbp")
	cg.emit("    ret\n")
}

// Appends both NUL terminated operands into the string arena starting at the
// bump cursor and returns the fresh string; the cursor advances past the new
// terminator so later concatenations never overlap.
func (cg *CodeGenerator) emitStrConcat() {
	cg.emit("; Function to concatenate two strings with offset")
	cg.emit("str_concat:")
	cg.emit("    push rbp")
	cg.emit("    mov rbp, rsp")
	cg.emit("    push r12")
	cg.emit("    push r13")
	cg.emit("    push r14")
	cg.emit("    push rbx")

	cg.emit("    mov r12, rdi        ; r12 = first string")
	cg.emit("    mov r13, rsi        ; r13 = second string")
	cg.emit("    mov r14, concat_buffer")
	cg.emit("    mov rbx, [concat_offset]")
	cg.emit("    add r14, rbx        ; r14 = destination (buffer + offset)")

	cg.emit("    mov rax, r14        ; the fresh string is the return value")

	cg.emit("    mov rsi, r12")
	cg.emit(".copy_str1:")
	cg.emit("    mov cl, [rsi]")
	cg.emit("    cmp cl, 0")
	cg.emit("    je .done_str1")
	cg.emit("    mov [r14], cl")
	cg.emit("    inc rsi")
	cg.emit("    inc r14")
	cg.emit("    jmp .copy_str1")
	cg.emit(".done_str1:")

	cg.emit("    mov rsi, r13")
	cg.emit(".copy_str2:")
	cg.emit("    mov cl, [rsi]")
	cg.emit("    cmp cl, 0")
	cg.emit("    je .done_str2")
	cg.emit("    mov [r14], cl")
	cg.emit("    inc rsi")
	cg.emit("    inc r14")
	cg.emit("    jmp .copy_str2")
	cg.emit(".done_str2:")

	cg.emit("    mov byte [r14], 0")
	cg.emit("    inc r14")

	cg.emit("    mov rbx, r14")
	cg.emit("    sub rbx, concat_buffer")
	cg.emit("    mov [concat_offset], rbx")

	cg.emit("    pop rbx")
	cg.emit("    pop r14")
	cg.emit("    pop r13")
	cg.emit("    pop r12")
	cg.emit("    pop rbp")
	cg.emit("    ret\n")
}

// Writes the NUL terminated string pointed by rax: one strlen pass, one write.
func (cg *CodeGenerator) emitPrintString() {
	cg.emit("print_string:")
	cg.emit("    push rbp")
	cg.emit("    mov rbp, rsp")
	cg.emit("    mov rsi, rax")
	cg.emit("    mov rdx, 0")
	cg.emit(".print_strlen_loop:")
	cg.emit("    cmp byte [rsi+rdx], 0")
	cg.emit("    je .print_strlen_done")
	cg.emit("    inc rdx")
	cg.emit("    jmp .print_strlen_loop")
	cg.emit(".print_strlen_done:")
	cg.emit("    mov rax, 1")
	cg.emit("    mov rdi, 1")
	cg.emit("    syscall")
	cg.emit("    pop rbp")
	cg.emit("    ret\n")
}

// Prints a value of runtime-discriminated type: addresses falling inside the
// list arena are rendered as '[e1, e2, ...]' (recursively, honoring nested
// lists), everything else goes through print_number. Inside a list, elements
// outside the arena that are 10000 or above are printed as strings.
func (cg *CodeGenerator) emitPrintNotString() {
	cg.emit("print_not_string:")
	cg.emit("    push rbp")
	cg.emit("    mov rbp, rsp")
	cg.emit("    push r12")
	cg.emit("    push r13")

	cg.emit("    ; Check if list (>= list_buffer)")
	cg.emit("    mov rcx, list_buffer")
	cg.emit("    cmp rax, rcx")
	cg.emit("    jl .print_as_number")

	cg.emit("    ; Print as list")
	cg.emit("    mov rbx, rax")
	cg.emit("    mov r12, [rbx]      ; r12 = list size")
	cg.emit("    add rbx, 8          ; move to the first element")

	cg.emit("    ; Print opening bracket")
	cg.emit("    push rbx")
	cg.emit("    push r12")
	cg.emit("    mov rax, 1")
	cg.emit("    mov rdi, 1")
	cg.emit("    mov rsi, open_bracket")
	cg.emit("    mov rdx, 1")
	cg.emit("    syscall")
	cg.emit("    pop r12")
	cg.emit("    pop rbx")

	cg.emit("    ; Check if empty list")
	cg.emit("    cmp r12, 0")
	cg.emit("    je .print_list_end")

	cg.emit("    mov r13, 0          ; r13 = element counter")

	cg.emit(".print_list_loop:")
	cg.emit("    mov rax, [rbx]")

	cg.emit("    push rbx")
	cg.emit("    push r12")
	cg.emit("    push r13")

	cg.emit("    ; Print element honoring its runtime type")
	cg.emit("    mov rcx, list_buffer")
	cg.emit("    cmp rax, rcx")
	cg.emit("    jl .print_element_not_list")
	cg.emit("    add rcx, 8192*8       ; end of the list arena")
	cg.emit("    cmp rax, rcx")
	cg.emit("    jl .print_element_as_list")
	cg.emit(".print_element_not_list:")
	cg.emit("    cmp rax, 10000")
	cg.emit("    jge .print_element_as_string")
	cg.emit("    call print_number")
	cg.emit("    jmp .print_element_done")

	cg.emit(".print_element_as_string:")
	cg.emit("    call print_string")
	cg.emit("    jmp .print_element_done")

	cg.emit(".print_element_as_list:")
	cg.emit("    call print_not_string")

	cg.emit(".print_element_done:")
	cg.emit("    pop r13")
	cg.emit("    pop r12")
	cg.emit("    pop rbx")

	cg.emit("    add rbx, 8")
	cg.emit("    inc r13")

	cg.emit("    cmp r13, r12")
	cg.emit("    jge .print_list_end")

	cg.emit("    ; Print comma and space")
	cg.emit("    push rbx")
	cg.emit("    push r12")
	cg.emit("    push r13")
	cg.emit("    mov rax, 1")
	cg.emit("    mov rdi, 1")
	cg.emit("    mov rsi, comma_space")
	cg.emit("    mov rdx, 2")
	cg.emit("    syscall")
	cg.emit("    pop r13")
	cg.emit("    pop r12")
	cg.emit("    pop rbx")

	cg.emit("    jmp .print_list_loop")

	cg.emit(".print_list_end:")
	cg.emit("    ; Print closing bracket")
	cg.emit("    mov rax, 1")
	cg.emit("    mov rdi, 1")
	cg.emit("    mov rsi, close_bracket")
	cg.emit("    mov rdx, 1")
	cg.emit("    syscall")
	cg.emit("    jmp .print_not_string_end")

	cg.emit(".print_as_number:")
	cg.emit("    call print_number")

	cg.emit(".print_not_string_end:")
	cg.emit("    pop r13")
	cg.emit("    pop r12")
	cg.emit("    pop rbp")
	cg.emit("    ret\n")
}

// Materializes list(range(n)): the size word then the values 0 .. n-1, bump
// allocated in the list arena like any other literal.
func (cg *CodeGenerator) emitListRange() {
	cg.emit("; Function to create a range list (0...n-1)")
	cg.emit("list_range:")
	cg.emit("    push rbp")
	cg.emit("    mov rbp, rsp")
	cg.emit("    push rbx")
	cg.emit("    push r12")
	cg.emit("    push r13")

	cg.emit("    mov r12, rax        ; r12 = n")

	cg.emit("    mov rbx, [list_offset]")
	cg.emit("    mov rax, list_buffer")
	cg.emit("    add rax, rbx        ; rax = base of the new list")
	cg.emit("    push rax            ; saved for the return value")

	cg.emit("    mov rcx, [list_offset]")
	cg.emit("    mov [list_buffer + rcx], r12")
	cg.emit("    add rcx, 8")
	cg.emit("    mov [list_offset], rcx")

	cg.emit("    xor r13, r13        ; r13 = counter")
	cg.emit("    cmp r12, 0")
	cg.emit("    je .list_range_done")

	cg.emit(".list_range_loop:")
	cg.emit("    mov rcx, [list_offset]")
	cg.emit("    mov [list_buffer + rcx], r13")
	cg.emit("    add rcx, 8")
	cg.emit("    mov [list_offset], rcx")

	cg.emit("    inc r13")

	cg.emit("    cmp r13, r12")
	cg.emit("    jl .list_range_loop")

	cg.emit(".list_range_done:")
	cg.emit("    pop rax             ; base of the new list")

	cg.emit("    pop r13")
	cg.emit("    pop r12")
	cg.emit("    pop rbx")
	cg.emit("    pop rbp")
	cg.emit("    ret\n")
}
